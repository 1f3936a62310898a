package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
)

type variantAvailability struct {
	Size      string `json:"size"`
	Available int    `json:"available"`
}

type stockResponse struct {
	ProductID string                `json:"productId"`
	Title     string                `json:"title"`
	Available int                   `json:"available"`
	Variants  []variantAvailability `json:"variants,omitempty"`
}

// handleStock возвращает доступный к продаже сток товара. Отдается
// значение, приведенное к нулю снизу: отрицательные счетчики — внутренний
// сигнал монитора и наружу не утекают.
func (s *Server) handleStock(c *gin.Context) {
	productID := c.Param("productID")

	product, err := s.products.Get(productID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load product"})
		return
	}

	resp := stockResponse{
		ProductID: product.ID,
		Title:     product.Title,
		Available: product.AvailableForDisplay(),
	}
	for _, variant := range product.Variants {
		available := variant.Available()
		if available < 0 {
			available = 0
		}
		resp.Variants = append(resp.Variants, variantAvailability{
			Size:      variant.Size,
			Available: available,
		})
	}

	c.JSON(http.StatusOK, resp)
}
