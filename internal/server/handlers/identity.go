package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// DefaultIdentityHeader carries the authenticated user id set by the upstream gateway.
const DefaultIdentityHeader = "X-User-ID"

const anonymous = "unknown"

// IdentityProvider names the user behind a request. It fills soldBy and processedBy.
type IdentityProvider interface {
	Identity(c *gin.Context) string
}

// HeaderIdentity reads the user id from a trusted request header.
type HeaderIdentity struct {
	Header string
}

// Identity implements IdentityProvider.
func (h HeaderIdentity) Identity(c *gin.Context) string {
	header := h.Header
	if header == "" {
		header = DefaultIdentityHeader
	}
	if user := strings.TrimSpace(c.GetHeader(header)); user != "" {
		return user
	}
	return anonymous
}
