package store

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrNotOwner        = errors.New("user is not the product owner")
	ErrInvalidPrice    = errors.New("product price must be greater than zero")
)

// StockKey identifica uma linha de estoque por (produto, variante)
type StockKey struct {
	ProductID string `json:"product_id"`
	Variant   string `json:"variant"`
}

// MissingStockError indica que o pedido referencia produtos e/ou variantes
// inexistentes (ou de produtos deletados). Missing enumera exatamente os
// pares ofensores.
type MissingStockError struct {
	Missing []StockKey
}

func (e *MissingStockError) Error() string {
	return "requested products and/or stock variants that do not exist"
}

// InsufficientStockError indica que o estoque disponível de um produto é
// menor que a quantidade desejada
type InsufficientStockError struct {
	ProductID string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("available stock for product %s is less than desired amount", e.ProductID)
}

// TransitionError indica uma transição de estado não permitida
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s transition from %s to %s is not allowed", e.Entity, e.From, e.To)
}
