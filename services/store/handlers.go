package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hvieira/store-service/store"
)

// ProductUseCaseInterface define a interface para o use case de produtos
type ProductUseCaseInterface interface {
	CreateProduct(ctx context.Context, ownerUserID, title, description string, price int, stock map[string]int) (*store.Product, error)
	UpdateProduct(ctx context.Context, productID, userID, title, description string, price int, stock map[string]int) (*store.Product, error)
	DeleteProduct(ctx context.Context, productID, userID string) error
	GetProduct(ctx context.Context, productID string) (*store.Product, []*store.ProductStock, error)
	ListProducts(ctx context.Context, pageSize int, offset *time.Time) (*store.ProductPage, error)
}

// OrderUseCaseInterface define a interface para o use case de pedidos
type OrderUseCaseInterface interface {
	CreateOrder(ctx context.Context, customerID string, items []store.OrderItemRequest) (*store.Order, error)
	ConfirmOrder(ctx context.Context, orderID string) (*store.Order, error)
	GetOrder(ctx context.Context, orderID string) (*store.Order, error)
}

// CreateProductRequest representa a requisição para criar um produto
type CreateProductRequest struct {
	OwnerUserID string         `json:"owner_user_id" binding:"required,uuid"`
	Title       string         `json:"title" binding:"required,max=100"`
	Description string         `json:"description" binding:"required,max=1000"`
	Price       int            `json:"price" binding:"required,gt=0"`
	Stock       map[string]int `json:"stock" binding:"required"`
}

// UpdateProductRequest representa a requisição para atualizar um produto
type UpdateProductRequest struct {
	Title       string         `json:"title" binding:"required,max=100"`
	Description string         `json:"description" binding:"required,max=1000"`
	Price       int            `json:"price" binding:"required,gt=0"`
	Stock       map[string]int `json:"stock" binding:"required"`
}

// CreateOrderRequest representa a requisição para criar um pedido
type CreateOrderRequest struct {
	CustomerID string             `json:"customer_id" binding:"required,uuid"`
	Products   []OrderItemPayload `json:"products" binding:"required,min=1,dive"`
}

// OrderItemPayload é uma linha pedida na criação de um pedido
type OrderItemPayload struct {
	ID       string `json:"id" binding:"required,uuid"`
	Variant  string `json:"variant"`
	Quantity int    `json:"quantity" binding:"required,gt=0"`
}

// ProductResponse é a representação de um produto com seu estoque
type ProductResponse struct {
	*store.Product
	Stock map[string]int `json:"stock"`
}

func newProductResponse(product *store.Product, stock []*store.ProductStock) ProductResponse {
	levels := make(map[string]int, len(stock))
	for _, s := range stock {
		levels[s.Variant] = s.Available
	}
	return ProductResponse{Product: product, Stock: levels}
}

// ProductHandler contém os handlers HTTP de produtos
type ProductHandler struct {
	useCase ProductUseCaseInterface
	tracer  trace.Tracer
}

// NewProductHandler cria uma nova instância de ProductHandler
func NewProductHandler(useCase ProductUseCaseInterface, tracer trace.Tracer) *ProductHandler {
	return &ProductHandler{
		useCase: useCase,
		tracer:  tracer,
	}
}

// Create cria um produto com estoque inicial
func (h *ProductHandler) Create(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "create_product")
	defer span.End()

	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product, err := h.useCase.CreateProduct(ctx, req.OwnerUserID, req.Title, req.Description, req.Price, req.Stock)
	if err != nil {
		span.RecordError(err)
		writeDomainError(c, err)
		return
	}

	span.SetAttributes(attribute.String("product_id", product.ID))
	c.JSON(http.StatusCreated, newProductResponse(product, stockFromSpec(product.ID, req.Stock)))
}

// Update atualiza um produto e substitui seu estoque
func (h *ProductHandler) Update(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "update_product")
	defer span.End()

	productID, ok := pathID(c)
	if !ok {
		return
	}
	userID := actingUser(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-User-Id header"})
		return
	}

	var req UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product, err := h.useCase.UpdateProduct(ctx, productID, userID, req.Title, req.Description, req.Price, req.Stock)
	if err != nil {
		span.RecordError(err)
		writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, newProductResponse(product, stockFromSpec(product.ID, req.Stock)))
}

// Delete executa o soft delete de um produto
func (h *ProductHandler) Delete(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "delete_product")
	defer span.End()

	productID, ok := pathID(c)
	if !ok {
		return
	}
	userID := actingUser(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-User-Id header"})
		return
	}

	if err := h.useCase.DeleteProduct(ctx, productID, userID); err != nil {
		span.RecordError(err)
		writeDomainError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Get busca um produto com seu estoque
func (h *ProductHandler) Get(c *gin.Context) {
	productID, ok := pathID(c)
	if !ok {
		return
	}

	product, stock, err := h.useCase.GetProduct(c.Request.Context(), productID)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, newProductResponse(product, stock))
}

// List retorna uma página de produtos
func (h *ProductHandler) List(c *gin.Context) {
	pageSize := 20
	if raw := c.Query("page_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page_size"})
			return
		}
		pageSize = parsed
	}

	var offset *time.Time
	if raw := c.Query("offset"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		offset = &parsed
	}

	page, err := h.useCase.ListProducts(c.Request.Context(), pageSize, offset)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// OrderHandler contém os handlers HTTP de pedidos
type OrderHandler struct {
	useCase OrderUseCaseInterface
	tracer  trace.Tracer
}

// NewOrderHandler cria uma nova instância de OrderHandler
func NewOrderHandler(useCase OrderUseCaseInterface, tracer trace.Tracer) *OrderHandler {
	return &OrderHandler{
		useCase: useCase,
		tracer:  tracer,
	}
}

// Create valida e cria um pedido multi-linha, reservando estoque
func (h *OrderHandler) Create(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "create_order")
	defer span.End()

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items := make([]store.OrderItemRequest, 0, len(req.Products))
	for _, p := range req.Products {
		items = append(items, store.OrderItemRequest{
			ProductID: p.ID,
			Variant:   p.Variant,
			Quantity:  p.Quantity,
		})
	}

	order, err := h.useCase.CreateOrder(ctx, req.CustomerID, items)
	if err != nil {
		span.RecordError(err)
		writeDomainError(c, err)
		return
	}

	span.SetAttributes(attribute.String("order_id", order.ID))
	c.JSON(http.StatusCreated, gin.H{"id": order.ID})
}

// Confirm confirma um pedido pendente. Confirmações repetidas retornam 200
// com a mesma representação.
func (h *OrderHandler) Confirm(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "confirm_order")
	defer span.End()

	orderID, ok := pathID(c)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("order_id", orderID))

	order, err := h.useCase.ConfirmOrder(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// Get busca um pedido do próprio cliente
func (h *OrderHandler) Get(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.useCase.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	if userID := actingUser(c); userID == "" || order.CustomerID != userID {
		c.Status(http.StatusForbidden)
		return
	}

	c.JSON(http.StatusOK, order)
}

// HealthCheck verifica a saúde do serviço
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "store-service",
	})
}

// writeDomainError traduz falhas tipadas do domínio em códigos HTTP
func writeDomainError(c *gin.Context, err error) {
	var missingErr *store.MissingStockError
	if errors.As(err, &missingErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  missingErr.Error(),
			"detail": missingErr.Missing,
		})
		return
	}

	var insufficientErr *store.InsufficientStockError
	if errors.As(err, &insufficientErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": insufficientErr.Error()})
		return
	}

	var transitionErr *store.TransitionError
	if errors.As(err, &transitionErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": transitionErr.Error()})
		return
	}

	switch {
	case errors.Is(err, store.ErrProductNotFound), errors.Is(err, store.ErrOrderNotFound):
		c.Status(http.StatusNotFound)
	case errors.Is(err, store.ErrNotOwner):
		c.Status(http.StatusForbidden)
	case errors.Is(err, store.ErrInvalidPrice):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pathID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.Status(http.StatusNotFound)
		return "", false
	}
	return id, true
}

func actingUser(c *gin.Context) string {
	return c.GetHeader("X-User-Id")
}

func stockFromSpec(productID string, spec map[string]int) []*store.ProductStock {
	stock := make([]*store.ProductStock, 0, len(spec))
	for variant, available := range spec {
		stock = append(stock, &store.ProductStock{
			ProductID: productID,
			Variant:   variant,
			Available: available,
		})
	}
	return stock
}
