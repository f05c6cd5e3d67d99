package httpserver

import (
	"errors"
	"net/http"
	"time"

	"aquavo-api/internal/domain"
	"aquavo-api/internal/sanitize"
	"aquavo-api/internal/validation"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Client-facing messages. Internal error text never reaches the response.
const (
	msgBadRequest     = "طلب غير صالح"
	msgInvalidInput   = "خطأ في البيانات المدخلة"
	msgUnauthorized   = "غير مصرح"
	msgForbidden      = "ممنوع"
	msgNotFound       = "غير موجود"
	msgRouteNotFound  = "المسار غير موجود"
	msgConflict       = "تعذر إتمام الطلب، يرجى تحديث السلة"
	msgInvalidStatus  = "لا يمكن تغيير حالة الطلب"
	msgCouponRejected = "لا يمكن استخدام كوبون الخصم"
	msgRateLimited    = "تم تجاوز الحد المسموح من الطلبات. يرجى المحاولة لاحقاً."
	msgTooLarge       = "حجم الطلب كبير جداً"
	msgInternal       = "حدث خطأ في الخادم. يرجى المحاولة لاحقاً."
)

func errorBody(msg string) gin.H {
	return gin.H{"error": msg, "timestamp": time.Now().UTC().Format(time.RFC3339)}
}

func abortWith(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, errorBody(msg))
}

// writeError maps service errors onto HTTP responses. Unknown errors are
// logged with the request id and answered with a generic 500.
func writeError(c *gin.Context, logger logrus.FieldLogger, err error) {
	var (
		verr *validation.Error
		cerr *domain.CouponError
		perr *domain.ProductError
	)
	switch {
	case errors.As(err, &verr):
		body := errorBody(msgInvalidInput)
		body["details"] = verr.Fields
		c.AbortWithStatusJSON(http.StatusBadRequest, body)
	case errors.As(err, &cerr):
		body := errorBody(msgCouponRejected)
		body["reason"] = cerr.Reason
		c.AbortWithStatusJSON(http.StatusBadRequest, body)
	case errors.As(err, &perr):
		body := errorBody(msgConflict)
		body["reason"] = catalogReason(perr.Err)
		body["productId"] = perr.ProductID
		c.AbortWithStatusJSON(http.StatusConflict, body)
	case errors.Is(err, domain.ErrNotFound):
		abortWith(c, http.StatusNotFound, msgNotFound)
	case errors.Is(err, domain.ErrInvalidTransition):
		abortWith(c, http.StatusConflict, msgInvalidStatus)
	case errors.Is(err, sanitize.ErrSuspiciousInput):
		abortWith(c, http.StatusBadRequest, msgBadRequest)
	default:
		logger.WithError(err).WithFields(logrus.Fields{
			"request_id": requestID(c),
			"method":     c.Request.Method,
			"path":       c.FullPath(),
		}).Error("request failed")
		abortWith(c, http.StatusInternalServerError, msgInternal)
	}
}

func catalogReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, domain.ErrPriceChanged):
		return "price_changed"
	default:
		return "unavailable"
	}
}
