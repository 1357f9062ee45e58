package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/authgate/internal/model"
)

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// validationErrorResponse はフィールド単位の入力エラーを含むレスポンス。
type validationErrorResponse struct {
	Code     string              `json:"code"`
	Message  string              `json:"message"`
	Category string              `json:"category"`
	Fields   map[string][]string `json:"fields"`
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON はリクエストボディをデコードする。失敗時はINVALID_REQUESTを書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// writeValidationError はフィールド単位の入力エラーを400で書き込む。
func writeValidationError(w http.ResponseWriter, verr *model.ValidationError) {
	writeJSON(w, http.StatusBadRequest, validationErrorResponse{
		Code:     model.ErrCodeValidation,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Fields:   verr.Fields,
	})
}

// requiredField は1フィールドの必須エラーを書き込む。
func requiredField(w http.ResponseWriter, field string) {
	verr := model.NewValidationError()
	verr.Add(field, "このフィールドは必須です。")
	writeValidationError(w, verr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		writeValidationError(w, verr)
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnsupportedProvider,
		model.ErrCodeProviderNotConfigured,
		model.ErrCodeProviderDisabled,
		model.ErrCodeNoEmail,
		model.ErrCodeNotFilledFields,
		model.ErrCodeWrongCredentials,
		model.ErrCodeValidation,
		model.ErrCodeInvalidRequest,
		model.ErrCodeInvalidVerificationToken,
		model.ErrCodeVerificationTokenUsed,
		model.ErrCodeVerificationTokenExpired:
		return http.StatusBadRequest
	case model.ErrCodeInvalidExternalToken,
		model.ErrCodeInvalidRefreshToken,
		model.ErrCodeRefreshTokenExpired,
		model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// outcomeOf はメトリクス用にエラーを結果ラベルへ変換する。
// 利用者起因のエラーは failure、それ以外は error とする。
func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	var verr *model.ValidationError
	var apiErr *model.APIError
	if errors.As(err, &verr) || errors.As(err, &apiErr) {
		return "failure"
	}
	return "error"
}
