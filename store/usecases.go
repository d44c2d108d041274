package store

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ProductUseCase contém a lógica de negócio de produtos
type ProductUseCase struct {
	repository Repository
	tracer     trace.Tracer
}

// NewProductUseCase cria uma nova instância de ProductUseCase
func NewProductUseCase(repository Repository, tracer trace.Tracer) *ProductUseCase {
	return &ProductUseCase{
		repository: repository,
		tracer:     tracer,
	}
}

// CreateProduct cria um produto com suas linhas de estoque. Produtos com
// estoque são publicados imediatamente (DRAFT -> AVAILABLE).
func (uc *ProductUseCase) CreateProduct(ctx context.Context, ownerUserID, title, description string, price int, stock map[string]int) (*Product, error) {
	ctx, span := uc.tracer.Start(ctx, "create_product")
	defer span.End()

	if price <= 0 {
		return nil, ErrInvalidPrice
	}

	product := NewProduct(uuid.New().String(), ownerUserID, title, description, price)
	span.SetAttributes(attribute.String("product_id", product.ID))

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if len(stock) > 0 {
		if err := product.Publish(); err != nil {
			return nil, err
		}
	}

	if err := uc.repository.CreateProduct(ctx, tx, product); err != nil {
		return nil, err
	}
	if err := uc.repository.ReplaceProductStock(ctx, tx, product.ID, stock); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit product creation: %w", err)
	}

	log.Printf("✅ [PRODUCT] Created: %s", product.ID)
	return product, nil
}

// UpdateProduct atualiza os campos de um produto e substitui seu estoque,
// sob lock pessimista. Apenas o dono pode alterar o produto.
func (uc *ProductUseCase) UpdateProduct(ctx context.Context, productID, userID, title, description string, price int, stock map[string]int) (*Product, error) {
	ctx, span := uc.tracer.Start(ctx, "update_product")
	defer span.End()
	span.SetAttributes(attribute.String("product_id", productID))

	if price <= 0 {
		return nil, ErrInvalidPrice
	}

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	product, err := uc.getProductForUpdate(ctx, tx, productID)
	if err != nil {
		return nil, err
	}
	if product.OwnerUserID != userID {
		return nil, ErrNotOwner
	}

	product.Title = title
	product.Description = description
	product.Price = price
	product.UpdatedAt = time.Now().UTC()

	if product.State == ProductStateDraft && len(stock) > 0 {
		if err := product.Publish(); err != nil {
			return nil, err
		}
	}

	if err := uc.repository.ReplaceProductStock(ctx, tx, product.ID, stock); err != nil {
		return nil, err
	}
	if err := uc.repository.UpdateProduct(ctx, tx, product); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit product update: %w", err)
	}
	return product, nil
}

// DeleteProduct executa o soft delete do produto e o purge das suas linhas
// de estoque, na mesma transação
func (uc *ProductUseCase) DeleteProduct(ctx context.Context, productID, userID string) error {
	ctx, span := uc.tracer.Start(ctx, "delete_product")
	defer span.End()
	span.SetAttributes(attribute.String("product_id", productID))

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	product, err := uc.getProductForUpdate(ctx, tx, productID)
	if err != nil {
		return err
	}
	if product.OwnerUserID != userID {
		return ErrNotOwner
	}

	if err := product.Delete(time.Now().UTC()); err != nil {
		return err
	}
	if err := uc.repository.PurgeProductStock(ctx, tx, product.ID); err != nil {
		return err
	}
	if err := uc.repository.UpdateProduct(ctx, tx, product); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit product deletion: %w", err)
	}

	log.Printf("✅ [PRODUCT] Deleted: %s", product.ID)
	return nil
}

// GetProduct busca um produto e suas linhas de estoque
func (uc *ProductUseCase) GetProduct(ctx context.Context, productID string) (*Product, []*ProductStock, error) {
	product, err := uc.repository.GetProduct(ctx, productID)
	if err != nil {
		return nil, nil, err
	}
	stock, err := uc.repository.GetProductStock(ctx, productID)
	if err != nil {
		return nil, nil, err
	}
	return product, stock, nil
}

// ProductPage é uma página de produtos com metadados de paginação
type ProductPage struct {
	Metadata PageMetadata `json:"metadata"`
	Data     []*Product   `json:"data"`
}

// PageMetadata descreve a posição da página no conjunto de resultados
type PageMetadata struct {
	PageSize   int        `json:"page_size"`
	OffsetDate *time.Time `json:"offset_date,omitempty"`
	HasNext    bool       `json:"has_next"`
}

// ListProducts retorna uma página de produtos ordenada por updated decrescente
func (uc *ProductUseCase) ListProducts(ctx context.Context, pageSize int, offset *time.Time) (*ProductPage, error) {
	products, total, err := uc.repository.ListProducts(ctx, pageSize, offset)
	if err != nil {
		return nil, err
	}

	page := &ProductPage{
		Metadata: PageMetadata{
			PageSize: pageSize,
			HasNext:  total > len(products),
		},
		Data: products,
	}
	if len(products) > 0 {
		page.Metadata.OffsetDate = &products[len(products)-1].UpdatedAt
	}
	return page, nil
}

func (uc *ProductUseCase) getProductForUpdate(ctx context.Context, tx Tx, productID string) (*Product, error) {
	products, err := uc.repository.GetProductsForUpdate(ctx, tx, []string{productID})
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, ErrProductNotFound
	}
	return products[0], nil
}

// OrderItemRequest representa uma linha pedida pelo cliente
type OrderItemRequest struct {
	ProductID string
	Variant   string
	Quantity  int
}

// OrderUseCase contém a lógica de negócio de pedidos
type OrderUseCase struct {
	repository Repository
	tracer     trace.Tracer
}

// NewOrderUseCase cria uma nova instância de OrderUseCase
func NewOrderUseCase(repository Repository, tracer trace.Tracer) *OrderUseCase {
	return &OrderUseCase{
		repository: repository,
		tracer:     tracer,
	}
}

// CreateOrder valida um pedido multi-linha contra o estoque e cria o pedido
// com suas linhas, tudo ou nada, numa única transação. Reservas concorrentes
// sobre os mesmos pares (produto, variante) serializam via lock pessimista
// em ordem canônica.
func (uc *OrderUseCase) CreateOrder(ctx context.Context, customerID string, items []OrderItemRequest) (*Order, error) {
	ctx, span := uc.tracer.Start(ctx, "create_order")
	defer span.End()
	span.SetAttributes(attribute.String("customer_id", customerID))

	// 1. Agrega as quantidades pedidas por par (produto, variante)
	requested := make(map[StockKey]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("quantity for product %s must be greater than zero", item.ProductID)
		}
		variant := item.Variant
		if variant == "" {
			variant = DefaultVariant
		}
		requested[StockKey{ProductID: item.ProductID, Variant: variant}] += item.Quantity
	}

	keys := sortedKeys(requested)

	// 2. Inicia a transação
	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 3. Trava os produtos envolvidos antes das linhas de estoque. Todos os
	// escritores seguem esta ordem (produto, depois estoque) para evitar
	// deadlock entre criação de pedido, exclusão de produto e reversão.
	productIDs := distinctProductIDs(keys)
	products, err := uc.repository.GetProductsForUpdate(ctx, tx, productIDs)
	if err != nil {
		return nil, err
	}
	productsByID := make(map[string]*Product, len(products))
	for _, product := range products {
		productsByID[product.ID] = product
	}

	// 4. Trava as linhas de estoque pedidas
	stocks, err := uc.repository.GetStockForUpdate(ctx, tx, keys)
	if err != nil {
		return nil, err
	}

	// 5. Pares ausentes (produto inexistente, deletado ou variante
	// desconhecida) falham o pedido inteiro com o detalhe exato
	if len(stocks) != len(requested) {
		return nil, &MissingStockError{Missing: missingKeys(keys, stocks)}
	}

	// 6. Reserva cada linha; qualquer insuficiência aborta sem reserva parcial
	order := NewOrder(uuid.New().String(), customerID)
	lineItems := make([]OrderLineItem, 0, len(stocks))
	changedProducts := make(map[string]*Product)

	for _, stock := range stocks {
		quantity := requested[StockKey{ProductID: stock.ProductID, Variant: stock.Variant}]
		if err := stock.Reserve(quantity); err != nil {
			log.Printf("❌ [ORDER] Reserve failed: customer=%s product=%s: %v", customerID, stock.ProductID, err)
			return nil, err
		}

		lineItems = append(lineItems, OrderLineItem{
			OrderID:   order.ID,
			ProductID: stock.ProductID,
			Variant:   stock.Variant,
			Quantity:  quantity,
		})

		// a reserva que zera a variante esgota o produto
		product := productsByID[stock.ProductID]
		if product == nil {
			continue
		}
		previous := product.State
		if stock.Available == 0 {
			err = product.MarkSoldOut()
		} else {
			err = product.MarkAvailable()
		}
		if err != nil {
			return nil, err
		}
		if product.State != previous {
			changedProducts[product.ID] = product
		}
	}

	// 7. Persiste reservas, pedido e linhas como uma unidade
	if err := uc.repository.UpdateStockLevels(ctx, tx, stocks); err != nil {
		return nil, err
	}
	for _, product := range changedProducts {
		if err := uc.repository.UpdateProduct(ctx, tx, product); err != nil {
			return nil, err
		}
	}
	if err := uc.repository.CreateOrder(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := uc.repository.CreateOrderLineItems(ctx, tx, lineItems); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order creation: %w", err)
	}

	order.LineItems = lineItems
	span.SetAttributes(attribute.String("order_id", order.ID))
	log.Printf("✅ [ORDER] Created: %s (%d line items)", order.ID, len(lineItems))
	return order, nil
}

// ConfirmOrder confirma um pedido pendente. Confirmações repetidas são
// no-op e não alteram o marcador updated.
func (uc *OrderUseCase) ConfirmOrder(ctx context.Context, orderID string) (*Order, error) {
	ctx, span := uc.tracer.Start(ctx, "confirm_order")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	order, err := uc.repository.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	previous := order.State
	if err := order.Confirm(); err != nil {
		return nil, err
	}

	if order.State != previous {
		if err := uc.repository.UpdateOrderState(ctx, tx, order.ID, order.State); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order confirmation: %w", err)
	}
	return order, nil
}

// ProcessPayment marca um pedido confirmado como pago. Disparado pelo
// consumidor de eventos de mudança, não por chamada direta do cliente.
func (uc *OrderUseCase) ProcessPayment(ctx context.Context, orderID string) error {
	ctx, span := uc.tracer.Start(ctx, "process_payment")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// o estado de origem é reavaliado sob o lock da linha do pedido, para
	// não competir às cegas com o reconciliador
	order, err := uc.repository.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return err
	}

	previous := order.State
	if err := order.ProcessPayment(); err != nil {
		return err
	}

	if order.State != previous {
		if err := uc.repository.UpdateOrderState(ctx, tx, order.ID, order.State); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment: %w", err)
	}

	log.Printf("✅ [PAYMENT] Order paid: %s", order.ID)
	return nil
}

// GetOrder busca um pedido com suas linhas
func (uc *OrderUseCase) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return uc.repository.GetOrder(ctx, orderID)
}

// RevertElapsedOrders reverte pedidos pendentes criados há mais de maxAge,
// devolvendo as quantidades reservadas ao estoque. Retorna quantos pedidos
// foram revertidos.
func (uc *OrderUseCase) RevertElapsedOrders(ctx context.Context, maxAge time.Duration) (int, error) {
	ctx, span := uc.tracer.Start(ctx, "revert_elapsed_orders")
	defer span.End()

	cutoff := time.Now().UTC().Add(-maxAge)

	tx, err := uc.repository.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	orders, err := uc.repository.ListElapsedPendingOrders(ctx, tx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(orders) == 0 {
		return 0, tx.Commit()
	}

	reverted := 0
	for _, order := range orders {
		// a consulta só seleciona PENDING, mas o estado é validado de novo
		// sob o lock antes da escrita
		if err := order.Revert(); err != nil {
			log.Printf("ℹ️  [REVERT] Skipping order %s: %v", order.ID, err)
			continue
		}

		if err := uc.releaseOrderStock(ctx, tx, order); err != nil {
			return 0, err
		}
		if err := uc.repository.UpdateOrderState(ctx, tx, order.ID, order.State); err != nil {
			return 0, err
		}
		reverted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit revert sweep: %w", err)
	}

	span.SetAttributes(attribute.Int("reverted", reverted))
	return reverted, nil
}

// releaseOrderStock devolve ao estoque as quantidades das linhas do pedido.
// Linhas de produtos já purgados não existem mais e são ignoradas.
func (uc *OrderUseCase) releaseOrderStock(ctx context.Context, tx Tx, order *Order) error {
	if len(order.LineItems) == 0 {
		return nil
	}

	quantities := make(map[StockKey]int, len(order.LineItems))
	for _, item := range order.LineItems {
		quantities[StockKey{ProductID: item.ProductID, Variant: item.Variant}] += item.Quantity
	}
	keys := sortedKeys(quantities)

	products, err := uc.repository.GetProductsForUpdate(ctx, tx, distinctProductIDs(keys))
	if err != nil {
		return err
	}
	productsByID := make(map[string]*Product, len(products))
	for _, product := range products {
		productsByID[product.ID] = product
	}

	stocks, err := uc.repository.GetStockForUpdate(ctx, tx, keys)
	if err != nil {
		return err
	}

	changedProducts := make(map[string]*Product)
	for _, stock := range stocks {
		stock.Release(quantities[StockKey{ProductID: stock.ProductID, Variant: stock.Variant}])

		product := productsByID[stock.ProductID]
		if product == nil || stock.Available == 0 {
			continue
		}
		if product.State == ProductStateSoldOut {
			if err := product.MarkAvailable(); err != nil {
				return err
			}
			changedProducts[product.ID] = product
		}
	}

	if err := uc.repository.UpdateStockLevels(ctx, tx, stocks); err != nil {
		return err
	}
	for _, product := range changedProducts {
		if err := uc.repository.UpdateProduct(ctx, tx, product); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(requested map[StockKey]int) []StockKey {
	keys := make([]StockKey, 0, len(requested))
	for key := range requested {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProductID != keys[j].ProductID {
			return keys[i].ProductID < keys[j].ProductID
		}
		return keys[i].Variant < keys[j].Variant
	})
	return keys
}

func distinctProductIDs(keys []StockKey) []string {
	ids := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if !seen[key.ProductID] {
			seen[key.ProductID] = true
			ids = append(ids, key.ProductID)
		}
	}
	return ids
}

func missingKeys(requested []StockKey, found []*ProductStock) []StockKey {
	present := make(map[StockKey]bool, len(found))
	for _, stock := range found {
		present[StockKey{ProductID: stock.ProductID, Variant: stock.Variant}] = true
	}
	var missing []StockKey
	for _, key := range requested {
		if !present[key] {
			missing = append(missing, key)
		}
	}
	return missing
}
