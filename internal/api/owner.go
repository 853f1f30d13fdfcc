package api

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// RequireOwner admits only the wallet the service pays from. It must run
// after auth.Middleware, which sets wallet_address.
func RequireOwner(owner common.Address) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := CheckOwner(c.GetString("wallet_address"), owner); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// CheckOwner compares a signed-in wallet with the payout owner, ignoring case.
func CheckOwner(walletAddr string, owner common.Address) error {
	if walletAddr == "" || !strings.EqualFold(walletAddr, owner.Hex()) {
		return errForbidden
	}
	return nil
}
