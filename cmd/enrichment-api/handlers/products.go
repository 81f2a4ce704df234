// Package handlers provides HTTP handlers for the product enrichment API.
package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/embedding"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/enrichment"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/observability"
	"github.com/spherical-ai/spherical/libs/product-enrichment/internal/retrieval"
)

// Enricher generates attributes, categories and marketing copy.
type Enricher interface {
	Attributes(ctx context.Context, req enrichment.AttributeRequest) (*enrichment.AttributeResult, error)
	Categories(ctx context.Context, req enrichment.CategoryRequest) ([][]string, *enrichment.RankInfo, error)
	MarketingCopy(ctx context.Context, req enrichment.MarketingRequest) (string, error)
}

// ProductIndex keeps the vector index in sync with the catalog.
type ProductIndex interface {
	Upsert(ctx context.Context, req retrieval.IndexRequest) error
	Remove(ctx context.Context, productID string) error
}

// ProductHandler serves the generative product routes.
type ProductHandler struct {
	logger   *observability.Logger
	enricher Enricher
	index    ProductIndex
}

// NewProductHandler creates a new product handler.
func NewProductHandler(logger *observability.Logger, enricher Enricher, index ProductIndex) *ProductHandler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ProductHandler{
		logger:   logger,
		enricher: enricher,
		index:    index,
	}
}

// ProductDTO is the product sent by clients. Category doubles as the
// positional category filter. The image is either a URI or inline base64
// bytes; inline bytes win when both are set.
type ProductDTO struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Category    []string `json:"category,omitempty"`
	ImageURI    string   `json:"image_uri,omitempty"`
	ImageBase64 string   `json:"image_base64,omitempty"`
}

func (p ProductDTO) hasContent() bool {
	return strings.TrimSpace(p.Description) != "" || p.ImageURI != "" || p.ImageBase64 != ""
}

func (p ProductDTO) image() (*embedding.ImageInput, error) {
	if p.ImageBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(p.ImageBase64)
		if err != nil {
			return nil, err
		}
		return &embedding.ImageInput{Bytes: data}, nil
	}
	if p.ImageURI == "" {
		return nil, nil
	}
	return &embedding.ImageInput{URI: p.ImageURI}, nil
}

// AttributeValueDTO is one generated attribute.
type AttributeValueDTO struct {
	Name  string `json:"attribute_name"`
	Value string `json:"attribute_value"`
}

// ProductAttributesDTO is the response of the attribute route.
type ProductAttributesDTO struct {
	ProductAttributes []AttributeValueDTO `json:"product_attributes"`
	Error             string              `json:"error,omitempty"`
}

// CategoryListDTO is the response of the category route.
type CategoryListDTO struct {
	Values [][]string `json:"values"`
}

// MarketingRequestDTO asks for marketing copy.
type MarketingRequestDTO struct {
	Description string              `json:"description"`
	Attributes  []AttributeValueDTO `json:"attributes,omitempty"`
}

// TextValueDTO wraps generated text.
type TextValueDTO struct {
	Text string `json:"text"`
}

// StatusDTO acknowledges an index change.
type StatusDTO struct {
	Status string `json:"status"`
}

// Attributes handles POST /api/v1/genai/products/attributes.
func (h *ProductHandler) Attributes(w http.ResponseWriter, r *http.Request) {
	var req ProductDTO
	if !h.decode(w, r, &req) {
		return
	}
	image, ok := h.requestImage(w, req)
	if !ok {
		return
	}

	res, err := h.enricher.Attributes(r.Context(), enrichment.AttributeRequest{
		Description: req.Description,
		Image:       image,
		Filters:     req.Category,
	})
	if err != nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Msg("Product retrieval and generation failed")
		h.writeError(w, http.StatusInternalServerError, "attribute generation failed", err.Error())
		return
	}

	dto := ProductAttributesDTO{
		ProductAttributes: make([]AttributeValueDTO, 0, len(res.Attributes)),
		Error:             res.Error,
	}
	for _, a := range res.Attributes {
		dto.ProductAttributes = append(dto.ProductAttributes, AttributeValueDTO{Name: a.Name, Value: a.Value})
	}
	h.writeJSON(w, http.StatusOK, dto)
}

// Categories handles POST /api/v1/genai/products/categories.
func (h *ProductHandler) Categories(w http.ResponseWriter, r *http.Request) {
	var req ProductDTO
	if !h.decode(w, r, &req) {
		return
	}
	image, ok := h.requestImage(w, req)
	if !ok {
		return
	}

	ranked, _, err := h.enricher.Categories(r.Context(), enrichment.CategoryRequest{
		Description: req.Description,
		Image:       image,
		Filters:     req.Category,
	})
	if err != nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Msg("Category retrieval and ranking failed")
		h.writeError(w, http.StatusInternalServerError, "category ranking failed", err.Error())
		return
	}
	if ranked == nil {
		ranked = [][]string{}
	}
	h.writeJSON(w, http.StatusOK, CategoryListDTO{Values: ranked})
}

// Marketing handles POST /api/v1/genai/products/marketing.
func (h *ProductHandler) Marketing(w http.ResponseWriter, r *http.Request) {
	var req MarketingRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		h.writeError(w, http.StatusBadRequest, "description is required", "")
		return
	}

	attrs := make([]enrichment.Attribute, len(req.Attributes))
	for i, a := range req.Attributes {
		attrs[i] = enrichment.Attribute{Name: a.Name, Value: a.Value}
	}

	text, err := h.enricher.MarketingCopy(r.Context(), enrichment.MarketingRequest{
		Description: req.Description,
		Attributes:  attrs,
	})
	if err != nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Msg("Marketing copy generation failed")
		h.writeError(w, http.StatusInternalServerError, "marketing copy generation failed", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, TextValueDTO{Text: text})
}

// Create handles POST /api/v1/genai/products.
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req ProductDTO
	if !h.decode(w, r, &req) {
		return
	}
	h.upsert(w, r, req)
}

// Update handles PUT /api/v1/genai/products/{id}. The path id wins over an
// id in the body.
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req ProductDTO
	if !h.decode(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")
	h.upsert(w, r, req)
}

func (h *ProductHandler) upsert(w http.ResponseWriter, r *http.Request, req ProductDTO) {
	if req.ID == "" {
		h.writeError(w, http.StatusBadRequest, "id is required", "")
		return
	}

	image, err := req.image()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "image_base64 is not valid base64", err.Error())
		return
	}

	err = h.index.Upsert(r.Context(), retrieval.IndexRequest{
		ProductID:   req.ID,
		Description: req.Description,
		Image:       image,
		Categories:  req.Category,
	})
	if errors.Is(err, retrieval.ErrNothingToIndex) {
		h.writeError(w, http.StatusBadRequest, "description or an image is required", "")
		return
	}
	if err != nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Str("product_id", req.ID).Msg("Product index upsert failed")
		h.writeError(w, http.StatusInternalServerError, "product index upsert failed", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, StatusDTO{Status: "OK"})
}

// Delete handles DELETE /api/v1/genai/products/{id}.
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.index.Remove(r.Context(), id); err != nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Str("product_id", id).Msg("Product index delete failed")
		h.writeError(w, http.StatusInternalServerError, "product index delete failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requestImage validates that a retrieval request carries content and
// decodes its image. It writes the 400 response itself.
func (h *ProductHandler) requestImage(w http.ResponseWriter, req ProductDTO) (*embedding.ImageInput, bool) {
	if !req.hasContent() {
		h.writeError(w, http.StatusBadRequest, "description, image_uri or image_base64 is required", "")
		return nil, false
	}
	image, err := req.image()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "image_base64 is not valid base64", err.Error())
		return nil, false
	}
	return image, true
}

func (h *ProductHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func (h *ProductHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *ProductHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	h.writeJSON(w, status, resp)
}
