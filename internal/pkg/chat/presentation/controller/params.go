package controller

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// int32Query parses a required int32 query parameter.
func int32Query(c *gin.Context, name string) (int32, bool) {
	v := c.Query(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(n), true
}

// intQueryDefault parses an optional int query parameter.
func intQueryDefault(c *gin.Context, name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// boolQueryPtr parses an optional bool query parameter, nil when absent.
func boolQueryPtr(c *gin.Context, name string) *bool {
	v := c.Query(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}
