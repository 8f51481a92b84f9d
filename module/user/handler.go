package user

import (
	"net/http"

	"ChatRelay/global"
	"ChatRelay/tools/security"

	"github.com/gin-gonic/gin"
)

type loginReq struct {
	UserID string `json:"userId" binding:"required"`
}

// HandlerLogin 签发开发/测试用 token；真实身份校验在上游网关做
func HandlerLogin(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, exp, err := security.Generate(security.DefaultOptions(global.GetJwtSecret()), req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":    token,
		"expireAt": exp,
		"userId":   req.UserID,
	})
}
