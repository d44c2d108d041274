package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository define a interface para operações de banco de dados da loja
type Repository interface {
	BeginTx(ctx context.Context) (Tx, error)

	// CreateProduct insere um novo produto
	CreateProduct(ctx context.Context, tx Tx, product *Product) error

	// GetProduct busca um produto não deletado pelo ID
	GetProduct(ctx context.Context, productID string) (*Product, error)

	// GetProductsForUpdate busca produtos não deletados com lock pessimista
	// (FOR UPDATE), em ordem canônica de ID
	GetProductsForUpdate(ctx context.Context, tx Tx, productIDs []string) ([]*Product, error)

	// UpdateProduct persiste os campos mutáveis de um produto
	UpdateProduct(ctx context.Context, tx Tx, product *Product) error

	// ListProducts retorna uma página de produtos ordenada por updated
	// decrescente e o total de resultados
	ListProducts(ctx context.Context, pageSize int, offset *time.Time) ([]*Product, int, error)

	// GetProductStock busca as linhas de estoque de um produto
	GetProductStock(ctx context.Context, productID string) ([]*ProductStock, error)

	// ReplaceProductStock substitui todas as linhas de estoque de um produto
	ReplaceProductStock(ctx context.Context, tx Tx, productID string, stock map[string]int) error

	// GetStockForUpdate busca as linhas de estoque correspondentes aos pares
	// (produto, variante), ignorando produtos deletados, com lock pessimista.
	// As linhas são travadas em ordem canônica (product_id, variant) para
	// evitar deadlocks entre transações concorrentes.
	GetStockForUpdate(ctx context.Context, tx Tx, keys []StockKey) ([]*ProductStock, error)

	// UpdateStockLevels persiste os contadores de estoque já mutados em memória
	UpdateStockLevels(ctx context.Context, tx Tx, stocks []*ProductStock) error

	// PurgeProductStock apaga (hard delete) todas as linhas de estoque de um produto
	PurgeProductStock(ctx context.Context, tx Tx, productID string) error

	// CreateOrder insere um novo pedido
	CreateOrder(ctx context.Context, tx Tx, order *Order) error

	// CreateOrderLineItems insere as linhas de um pedido
	CreateOrderLineItems(ctx context.Context, tx Tx, items []OrderLineItem) error

	// GetOrder busca um pedido pelo ID, com suas linhas
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// GetOrderForUpdate busca um pedido com lock pessimista, com suas linhas
	GetOrderForUpdate(ctx context.Context, tx Tx, orderID string) (*Order, error)

	// UpdateOrderState atualiza o estado de um pedido e o marcador updated
	UpdateOrderState(ctx context.Context, tx Tx, orderID string, state string) error

	// ListElapsedPendingOrders busca pedidos pendentes criados antes do
	// instante de corte, com lock pessimista e linhas carregadas
	ListElapsedPendingOrders(ctx context.Context, tx Tx, cutoff time.Time) ([]*Order, error)
}

// Tx interface para transações
type Tx interface {
	Commit() error
	Rollback() error
}

// PostgresTx implementa a interface Tx
type PostgresTx struct {
	tx pgx.Tx
}

func (t *PostgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *PostgresTx) Rollback() error {
	return t.tx.Rollback(context.Background())
}

// PostgresRepository implementa Repository usando PostgreSQL
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository cria uma nova instância de PostgresRepository
func NewPostgresRepository(db *pgxpool.Pool) Repository {
	return &PostgresRepository{
		db: db,
	}
}

// BeginTx inicia uma nova transação
func (r *PostgresRepository) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &PostgresTx{tx: tx}, nil
}

// CreateProduct insere um novo produto
func (r *PostgresRepository) CreateProduct(ctx context.Context, tx Tx, product *Product) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		INSERT INTO store_api_product (id, title, description, price, state, owner_user_id, created, updated, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, product.ID, product.Title, product.Description, product.Price, product.State,
		product.OwnerUserID, product.CreatedAt, product.UpdatedAt, product.DeletedAt)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

const productColumns = "id, title, description, price, state, owner_user_id, created, updated, deleted"

func scanProduct(row pgx.Row) (*Product, error) {
	var product Product
	err := row.Scan(&product.ID, &product.Title, &product.Description, &product.Price,
		&product.State, &product.OwnerUserID, &product.CreatedAt, &product.UpdatedAt, &product.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProduct busca um produto não deletado pelo ID
func (r *PostgresRepository) GetProduct(ctx context.Context, productID string) (*Product, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM store_api_product
		WHERE id = $1 AND deleted IS NULL
	`, productID)

	product, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

// GetProductsForUpdate busca produtos não deletados com lock pessimista
func (r *PostgresRepository) GetProductsForUpdate(ctx context.Context, tx Tx, productIDs []string) ([]*Product, error) {
	pgTx := tx.(*PostgresTx).tx

	rows, err := pgTx.Query(ctx, `
		SELECT `+productColumns+`
		FROM store_api_product
		WHERE id = ANY($1) AND deleted IS NULL
		ORDER BY id
		FOR UPDATE
	`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get products with lock: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

// UpdateProduct persiste os campos mutáveis de um produto
func (r *PostgresRepository) UpdateProduct(ctx context.Context, tx Tx, product *Product) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		UPDATE store_api_product
		SET title = $1, description = $2, price = $3, state = $4, updated = $5, deleted = $6
		WHERE id = $7
	`, product.Title, product.Description, product.Price, product.State,
		product.UpdatedAt, product.DeletedAt, product.ID)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return nil
}

// ListProducts retorna uma página de produtos ordenada por updated decrescente
func (r *PostgresRepository) ListProducts(ctx context.Context, pageSize int, offset *time.Time) ([]*Product, int, error) {
	where := "WHERE deleted IS NULL"
	args := []any{}
	if offset != nil {
		where += " AND updated < $1"
		args = append(args, *offset)
	}

	var total int
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM store_api_product "+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM store_api_product
		%s
		ORDER BY updated DESC
		LIMIT %d
	`, productColumns, where, pageSize)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, product)
	}
	return products, total, rows.Err()
}

// GetProductStock busca as linhas de estoque de um produto
func (r *PostgresRepository) GetProductStock(ctx context.Context, productID string) ([]*ProductStock, error) {
	rows, err := r.db.Query(ctx, `
		SELECT product_id, variant, available, reserved, sold
		FROM store_api_productstock
		WHERE product_id = $1
		ORDER BY variant
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to get product stock: %w", err)
	}
	defer rows.Close()

	return scanStockRows(rows)
}

func scanStockRows(rows pgx.Rows) ([]*ProductStock, error) {
	var stocks []*ProductStock
	for rows.Next() {
		var stock ProductStock
		err := rows.Scan(&stock.ProductID, &stock.Variant, &stock.Available, &stock.Reserved, &stock.Sold)
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, &stock)
	}
	return stocks, rows.Err()
}

// ReplaceProductStock substitui todas as linhas de estoque de um produto
func (r *PostgresRepository) ReplaceProductStock(ctx context.Context, tx Tx, productID string, stock map[string]int) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, "DELETE FROM store_api_productstock WHERE product_id = $1", productID)
	if err != nil {
		return fmt.Errorf("failed to clear product stock: %w", err)
	}

	for variant, available := range stock {
		_, err := pgTx.Exec(ctx, `
			INSERT INTO store_api_productstock (product_id, variant, available, reserved, sold)
			VALUES ($1, $2, $3, 0, 0)
		`, productID, variant, available)
		if err != nil {
			return fmt.Errorf("failed to create stock for variant %s: %w", variant, err)
		}
	}
	return nil
}

// GetStockForUpdate busca linhas de estoque por pares (produto, variante)
// com lock pessimista, em ordem canônica
func (r *PostgresRepository) GetStockForUpdate(ctx context.Context, tx Tx, keys []StockKey) ([]*ProductStock, error) {
	pgTx := tx.(*PostgresTx).tx

	if len(keys) == 0 {
		return nil, nil
	}

	// um predicado OR por par, como filtro combinado
	predicates := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)*2)
	for i, key := range keys {
		predicates = append(predicates, fmt.Sprintf("(ps.product_id = $%d AND ps.variant = $%d)", i*2+1, i*2+2))
		args = append(args, key.ProductID, key.Variant)
	}

	query := fmt.Sprintf(`
		SELECT ps.product_id, ps.variant, ps.available, ps.reserved, ps.sold
		FROM store_api_productstock ps
		JOIN store_api_product p ON p.id = ps.product_id
		WHERE p.deleted IS NULL AND (%s)
		ORDER BY ps.product_id, ps.variant
		FOR UPDATE OF ps
	`, strings.Join(predicates, " OR "))

	rows, err := pgTx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get stock with lock: %w", err)
	}
	defer rows.Close()

	return scanStockRows(rows)
}

// UpdateStockLevels persiste os contadores de estoque já mutados em memória
func (r *PostgresRepository) UpdateStockLevels(ctx context.Context, tx Tx, stocks []*ProductStock) error {
	pgTx := tx.(*PostgresTx).tx

	for _, stock := range stocks {
		_, err := pgTx.Exec(ctx, `
			UPDATE store_api_productstock
			SET available = $1, reserved = $2, sold = $3
			WHERE product_id = $4 AND variant = $5
		`, stock.Available, stock.Reserved, stock.Sold, stock.ProductID, stock.Variant)
		if err != nil {
			return fmt.Errorf("failed to update stock for product %s variant %s: %w",
				stock.ProductID, stock.Variant, err)
		}
	}
	return nil
}

// PurgeProductStock apaga todas as linhas de estoque de um produto
func (r *PostgresRepository) PurgeProductStock(ctx context.Context, tx Tx, productID string) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, "DELETE FROM store_api_productstock WHERE product_id = $1", productID)
	if err != nil {
		return fmt.Errorf("failed to purge product stock: %w", err)
	}
	return nil
}

// CreateOrder insere um novo pedido
func (r *PostgresRepository) CreateOrder(ctx context.Context, tx Tx, order *Order) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		INSERT INTO store_api_order (id, customer_id, state, created, updated, deleted)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, order.ID, order.CustomerID, order.State, order.CreatedAt, order.UpdatedAt, order.DeletedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// CreateOrderLineItems insere as linhas de um pedido
func (r *PostgresRepository) CreateOrderLineItems(ctx context.Context, tx Tx, items []OrderLineItem) error {
	pgTx := tx.(*PostgresTx).tx

	for _, item := range items {
		_, err := pgTx.Exec(ctx, `
			INSERT INTO store_api_orderlineitem (order_id, product_id, variant, quantity)
			VALUES ($1, $2, $3, $4)
		`, item.OrderID, item.ProductID, item.Variant, item.Quantity)
		if err != nil {
			return fmt.Errorf("failed to create order line item: %w", err)
		}
	}
	return nil
}

const orderColumns = "id, customer_id, state, created, updated, deleted"

func scanOrder(row pgx.Row) (*Order, error) {
	var order Order
	err := row.Scan(&order.ID, &order.CustomerID, &order.State,
		&order.CreatedAt, &order.UpdatedAt, &order.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder busca um pedido pelo ID, com suas linhas
func (r *PostgresRepository) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM store_api_order
		WHERE id = $1 AND deleted IS NULL
	`, orderID)

	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	items, err := r.loadLineItems(ctx, r.db, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.LineItems = items[order.ID]
	return order, nil
}

// GetOrderForUpdate busca um pedido com lock pessimista, com suas linhas
func (r *PostgresRepository) GetOrderForUpdate(ctx context.Context, tx Tx, orderID string) (*Order, error) {
	pgTx := tx.(*PostgresTx).tx

	row := pgTx.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM store_api_order
		WHERE id = $1 AND deleted IS NULL
		FOR UPDATE
	`, orderID)

	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order with lock: %w", err)
	}

	items, err := r.loadLineItems(ctx, pgTx, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.LineItems = items[order.ID]
	return order, nil
}

// UpdateOrderState atualiza o estado de um pedido e o marcador updated
func (r *PostgresRepository) UpdateOrderState(ctx context.Context, tx Tx, orderID string, state string) error {
	pgTx := tx.(*PostgresTx).tx

	_, err := pgTx.Exec(ctx, `
		UPDATE store_api_order
		SET state = $1, updated = NOW()
		WHERE id = $2
	`, state, orderID)
	if err != nil {
		return fmt.Errorf("failed to update order state: %w", err)
	}
	return nil
}

// ListElapsedPendingOrders busca pedidos pendentes criados antes do corte
func (r *PostgresRepository) ListElapsedPendingOrders(ctx context.Context, tx Tx, cutoff time.Time) ([]*Order, error) {
	pgTx := tx.(*PostgresTx).tx

	rows, err := pgTx.Query(ctx, `
		SELECT `+orderColumns+`
		FROM store_api_order
		WHERE state = $1 AND deleted IS NULL AND created < $2
		ORDER BY created
		FOR UPDATE
	`, OrderStatePending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list elapsed pending orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	var orderIDs []string
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
		orderIDs = append(orderIDs, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orders) == 0 {
		return nil, nil
	}

	items, err := r.loadLineItems(ctx, pgTx, orderIDs)
	if err != nil {
		return nil, err
	}
	for _, order := range orders {
		order.LineItems = items[order.ID]
	}
	return orders, nil
}

// querier cobre pgxpool.Pool e pgx.Tx para leituras compartilhadas
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PostgresRepository) loadLineItems(ctx context.Context, q querier, orderIDs []string) (map[string][]OrderLineItem, error) {
	rows, err := q.Query(ctx, `
		SELECT order_id, product_id, variant, quantity
		FROM store_api_orderlineitem
		WHERE order_id = ANY($1)
		ORDER BY product_id, variant
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load order line items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]OrderLineItem)
	for rows.Next() {
		var item OrderLineItem
		err := rows.Scan(&item.OrderID, &item.ProductID, &item.Variant, &item.Quantity)
		if err != nil {
			return nil, err
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	return items, rows.Err()
}
