package store

import (
	"time"
)

// Estados possíveis de um produto
const (
	ProductStateDraft     = "DRAFT"
	ProductStateAvailable = "AVAILABLE"
	ProductStateSoldOut   = "SOLD_OUT"
	ProductStateDeleted   = "DELETED"
)

// Estados possíveis de um pedido
const (
	OrderStatePending   = "PENDING"
	OrderStateConfirmed = "CONFIRMED"
	OrderStatePaid      = "PAID"
	OrderStateShipped   = "SHIPPED"
	OrderStateCancelled = "CANCELLED"
	OrderStateReverted  = "REVERTED"
)

// DefaultVariant é a variante usada quando o cliente não especifica uma.
const DefaultVariant = "default"

// Tabelas de transições permitidas (origem -> destinos). Estados ausentes
// são terminais. A exclusão de produto é um caso "wildcard" tratado em
// Product.Delete, fora da tabela.
var productTransitions = map[string][]string{
	ProductStateDraft:     {ProductStateAvailable, ProductStateDeleted},
	ProductStateAvailable: {ProductStateSoldOut, ProductStateDeleted},
	ProductStateSoldOut:   {ProductStateAvailable, ProductStateDeleted},
}

var orderTransitions = map[string][]string{
	OrderStatePending:   {OrderStateConfirmed, OrderStateCancelled, OrderStateReverted},
	OrderStateConfirmed: {OrderStatePaid},
	OrderStatePaid:      {OrderStateShipped},
}

func transitionAllowed(table map[string][]string, from, to string) bool {
	for _, target := range table[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Product representa um item à venda no catálogo
type Product struct {
	ID          string     `json:"id" db:"id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`
	Price       int        `json:"price" db:"price"`
	State       string     `json:"state" db:"state"`
	OwnerUserID string     `json:"owner_user_id" db:"owner_user_id"`
	CreatedAt   time.Time  `json:"created_at" db:"created"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty" db:"deleted"`
}

// NewProduct cria uma nova instância de Product no estado DRAFT
func NewProduct(id, ownerUserID, title, description string, price int) *Product {
	now := time.Now().UTC()
	return &Product{
		ID:          id,
		Title:       title,
		Description: description,
		Price:       price,
		State:       ProductStateDraft,
		OwnerUserID: ownerUserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (p *Product) transitionTo(target string) error {
	if !transitionAllowed(productTransitions, p.State, target) {
		return &TransitionError{Entity: "product", From: p.State, To: target}
	}
	p.State = target
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Publish torna um produto em rascunho visível para venda
func (p *Product) Publish() error {
	return p.transitionTo(ProductStateAvailable)
}

// MarkSoldOut marca o produto como esgotado após uma reserva zerar a
// variante. É no-op se o produto já estiver esgotado.
func (p *Product) MarkSoldOut() error {
	if p.State == ProductStateSoldOut {
		return nil
	}
	return p.transitionTo(ProductStateSoldOut)
}

// MarkAvailable retorna o produto ao estado disponível. É no-op se o
// produto já estiver disponível.
func (p *Product) MarkAvailable() error {
	if p.State == ProductStateAvailable {
		return nil
	}
	return p.transitionTo(ProductStateAvailable)
}

// Delete executa o soft delete do produto. Permitido a partir de qualquer
// estado não deletado; DELETED é terminal.
func (p *Product) Delete(now time.Time) error {
	if p.State == ProductStateDeleted {
		return &TransitionError{Entity: "product", From: p.State, To: ProductStateDeleted}
	}
	p.State = ProductStateDeleted
	p.DeletedAt = &now
	p.UpdatedAt = now
	return nil
}

// ProductStock representa o estoque de uma variante de produto
type ProductStock struct {
	ProductID string `json:"product_id" db:"product_id"`
	Variant   string `json:"variant" db:"variant"`
	Available int    `json:"available" db:"available"`
	Reserved  int    `json:"reserved" db:"reserved"`
	Sold      int    `json:"sold" db:"sold"`
}

// Reserve decrementa a quantidade disponível. Falha sem mutação quando a
// quantidade disponível é insuficiente, mantendo o invariante available >= 0.
func (s *ProductStock) Reserve(quantity int) error {
	if s.Available < quantity {
		return &InsufficientStockError{ProductID: s.ProductID}
	}
	s.Available -= quantity
	s.Reserved += quantity
	return nil
}

// Release devolve uma quantidade reservada ao estoque disponível. Não há
// limite superior para available.
func (s *ProductStock) Release(quantity int) {
	s.Available += quantity
	s.Reserved -= quantity
	if s.Reserved < 0 {
		s.Reserved = 0
	}
}

// Order representa um pedido de compra
type Order struct {
	ID         string          `json:"id" db:"id"`
	CustomerID string          `json:"customer_id" db:"customer_id"`
	State      string          `json:"state" db:"state"`
	CreatedAt  time.Time       `json:"created_at" db:"created"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated"`
	DeletedAt  *time.Time      `json:"deleted_at,omitempty" db:"deleted"`
	LineItems  []OrderLineItem `json:"line_items" db:"-"`
}

// NewOrder cria uma nova instância de Order no estado PENDING
func NewOrder(id, customerID string) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:         id,
		CustomerID: customerID,
		State:      OrderStatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (o *Order) transitionTo(target string) error {
	if !transitionAllowed(orderTransitions, o.State, target) {
		return &TransitionError{Entity: "order", From: o.State, To: target}
	}
	o.State = target
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// Confirm confirma um pedido pendente. Confirmar um pedido já confirmado é
// no-op, sem erro e sem alterar o marcador de atualização.
func (o *Order) Confirm() error {
	if o.State == OrderStateConfirmed {
		return nil
	}
	return o.transitionTo(OrderStateConfirmed)
}

// ProcessPayment marca um pedido confirmado como pago. Como os eventos de
// mudança são entregues pelo menos uma vez, reprocessar um pedido já pago é
// no-op.
func (o *Order) ProcessPayment() error {
	if o.State == OrderStatePaid {
		return nil
	}
	return o.transitionTo(OrderStatePaid)
}

// Revert reverte um pedido pendente que não foi confirmado a tempo. A
// devolução do estoque reservado é responsabilidade do caso de uso que
// executa a transição.
func (o *Order) Revert() error {
	if o.State == OrderStateReverted {
		return nil
	}
	return o.transitionTo(OrderStateReverted)
}

// Cancel cancela um pedido pendente a mando do cliente
func (o *Order) Cancel() error {
	if o.State == OrderStateCancelled {
		return nil
	}
	return o.transitionTo(OrderStateCancelled)
}

// Ship marca um pedido pago como enviado. O processo de envio em si ainda
// não é modelado.
func (o *Order) Ship() error {
	return o.transitionTo(OrderStateShipped)
}

// OrderLineItem representa uma linha de um pedido. Linhas são imutáveis
// após a criação; reservas só são liberadas por transição de estado do
// pedido.
type OrderLineItem struct {
	OrderID   string `json:"order_id" db:"order_id"`
	ProductID string `json:"product_id" db:"product_id"`
	Variant   string `json:"variant" db:"variant"`
	Quantity  int    `json:"quantity" db:"quantity"`
}
