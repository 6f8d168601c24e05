package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/pkg/logger"
)

func RespondJSON(c *gin.Context, status string, code int, message string, data interface{}, errors interface{}) {
	c.JSON(code, StandardApiResponse{
		Status:     status,
		StatusCode: code,
		Message:    message,
		Data:       data,
		Errors:     errors,
	})
}

// RespondError writes err using the status code of its error class.
// Server errors are logged; client errors are not.
func RespondError(c *gin.Context, message string, err error) {
	code := apperrors.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		logger.GetDefault().LogHTTPError(c, err, code)
	}
	RespondJSON(c, "error", code, message, nil, ErrorDetail{
		Kind:   apperrors.Kind(err),
		Detail: err.Error(),
	})
}
