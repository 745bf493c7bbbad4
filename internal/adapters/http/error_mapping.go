package httpadapter

import (
	"net/http"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrUnsupportedFileType):
		return http.StatusUnsupportedMediaType
	case domain.IsKind(err, domain.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case domain.IsKind(err, domain.ErrInvalidState):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrExtractionFailed):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrAnalysisFailed),
		domain.IsKind(err, domain.ErrStorage),
		domain.IsKind(err, domain.ErrBlobFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
