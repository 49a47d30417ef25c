package validation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

// BindAndValidate binds JSON body into `out` and runs validation.
// If validation fails, it writes a 400 response and returns an error for the handler to short-circuit.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid_request_body",
			"msg":   err.Error(),
		})
		return err
	}

	if err := Check(v, out); err != nil {
		WriteError(c, err)
		return err
	}
	return nil
}

// WriteError renders a validation failure as a structured 400.
func WriteError(c *gin.Context, err error) {
	var verr *Error
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation_failed",
			"fields": verr.Fields,
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "msg": err.Error()})
}
