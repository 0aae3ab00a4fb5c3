// Package handler implements the gin endpoints of the administrative and
// integration surface.
package handler

import "github.com/gin-gonic/gin"

// fail writes the uniform failure envelope. Every error response carries
// ok:false so clients can branch on one field regardless of status code.
func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"ok": false, "error": msg})
}
