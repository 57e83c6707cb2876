package handler

import (
	"github.com/gin-gonic/gin"
)

// errorBody is the uniform error envelope: detail for humans, code for
// machines.
type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

func respondError(c *gin.Context, status int, code, detail string) {
	c.JSON(status, errorBody{Detail: detail, Code: code})
}
