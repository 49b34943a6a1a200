package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"unicode"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/stockledger/internal/domain/models"
	"github.com/mamadbah2/stockledger/internal/domain/stockerr"
	"github.com/mamadbah2/stockledger/internal/service/ledger"
)

// LedgerService is the write side used by the product routes.
type LedgerService interface {
	CreateProduct(ctx context.Context, in ledger.CreateProductInput) (models.Product, error)
	IncreaseStock(ctx context.Context, productID string, quantity int64) (models.Product, error)
	DecreaseStock(ctx context.Context, productID string, quantity int64) (models.Product, error)
}

// QueryService is the read side used by the product routes.
type QueryService interface {
	GetSummary(ctx context.Context, productID string) (models.ProductSummary, error)
	GetHistory(ctx context.Context, productID string) ([]models.HistoryEntry, error)
}

// ProductHandler exposes the stock ledger over HTTP.
type ProductHandler struct {
	ledger LedgerService
	query  QueryService
	logger *zap.Logger
}

// NewProductHandler constructs the HTTP handler adapter.
func NewProductHandler(ledger LedgerService, query QueryService, logger *zap.Logger) *ProductHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductHandler{ledger: ledger, query: query, logger: logger}
}

type createProductRequest struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	InitialStock *int64 `json:"initialStock"`
}

type stockChangeRequest struct {
	Quantity int64 `json:"quantity"`
}

type apiResponse struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       any    `json:"data"`
}

type apiError struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Errors     []any  `json:"errors"`
}

type insufficientStockDetail struct {
	CurrentStock int64 `json:"currentStock"`
	Requested    int64 `json:"requested"`
}

// Create registers a product with its optional opening stock.
func (h *ProductHandler) Create(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	product, err := h.ledger.CreateProduct(c.Request.Context(), ledger.CreateProductInput{
		Name:         req.Name,
		SKU:          req.SKU,
		InitialStock: req.InitialStock,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	respond(c, http.StatusCreated, "Product created successfully", product.Summary())
}

// Increase adds stock to the product named in the path.
func (h *ProductHandler) Increase(c *gin.Context) {
	h.changeStock(c, h.ledger.IncreaseStock, "Stock increased successfully")
}

// Decrease removes stock from the product named in the path.
func (h *ProductHandler) Decrease(c *gin.Context) {
	h.changeStock(c, h.ledger.DecreaseStock, "Stock decreased successfully")
}

func (h *ProductHandler) changeStock(c *gin.Context, apply func(context.Context, string, int64) (models.Product, error), message string) {
	var req stockChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	product, err := apply(c.Request.Context(), c.Param("id"), req.Quantity)
	if err != nil {
		h.fail(c, err)
		return
	}

	respond(c, http.StatusOK, message, product.Summary())
}

// Summary returns the product's current stock figures.
func (h *ProductHandler) Summary(c *gin.Context) {
	summary, err := h.query.GetSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Product summary fetched successfully", summary)
}

// History returns the product's movements, newest first.
func (h *ProductHandler) History(c *gin.Context) {
	history, err := h.query.GetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	respond(c, http.StatusOK, "Transaction history fetched successfully", history)
}

// NotFound answers requests for unknown routes.
func NotFound(c *gin.Context) {
	abort(c, http.StatusNotFound, "Route not found", nil)
}

// Health reports that the process is serving requests.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Server is running"})
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, apiResponse{Success: true, StatusCode: status, Message: message, Data: data})
}

func abort(c *gin.Context, status int, message string, details []any) {
	if details == nil {
		details = []any{}
	}
	c.AbortWithStatusJSON(status, apiError{Success: false, StatusCode: status, Message: message, Errors: details})
}

func (h *ProductHandler) badRequest(c *gin.Context, err error) {
	h.logger.Warn("invalid request body", zap.String("path", c.FullPath()), zap.Error(err))
	abort(c, http.StatusBadRequest, "Invalid request body", []any{err.Error()})
}

// fail maps ledger errors onto HTTP statuses.
func (h *ProductHandler) fail(c *gin.Context, err error) {
	var (
		invalid      *stockerr.InvalidArgumentError
		conflict     *stockerr.ConflictError
		notFound     *stockerr.NotFoundError
		insufficient *stockerr.InsufficientStockError
		failure      *stockerr.StoreFailureError
	)

	switch {
	case errors.As(err, &invalid):
		abort(c, http.StatusBadRequest, sentence(invalid.Reason), []any{invalid.Error()})
	case errors.As(err, &conflict):
		abort(c, http.StatusConflict, "Product with this SKU already exists", []any{conflict.Error()})
	case errors.As(err, &notFound):
		abort(c, http.StatusNotFound, "Product not found", nil)
	case errors.As(err, &insufficient):
		message := fmt.Sprintf("Insufficient stock. Current stock: %d, requested: %d", insufficient.Current, insufficient.Requested)
		abort(c, http.StatusBadRequest, message, []any{insufficientStockDetail{
			CurrentStock: insufficient.Current,
			Requested:    insufficient.Requested,
		}})
	case errors.As(err, &failure) && failure.Ambiguous:
		h.logger.Error("stock change outcome unknown", zap.String("path", c.FullPath()), zap.Error(err))
		abort(c, http.StatusServiceUnavailable, "Stock update outcome unknown, re-read the product before retrying", nil)
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		abort(c, http.StatusInternalServerError, "Internal Server Error", nil)
	}
}

// sentence upper-cases the first letter of s.
func sentence(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
