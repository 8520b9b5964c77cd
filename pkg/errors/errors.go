// Package errors 提供應用程式錯誤處理
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeInvalidState 操作與當前遊戲狀態不符
	ErrCodeInvalidState = "INVALID_STATE"
	// ErrCodeWrongAnswer 答案錯誤（預期內、非致命）
	ErrCodeWrongAnswer = "WRONG_ANSWER"
	// ErrCodeRateLimited 請求超過配額
	ErrCodeRateLimited = "RATE_LIMITED"
	// ErrCodeUnauthenticated 憑證無效或缺失
	ErrCodeUnauthenticated = "UNAUTHENTICATED"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeUnavailable 外部儲存不可用或逾時
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 添加詳細資訊
func (e *AppError) WithDetails(details string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Err:     e.Err,
	}
}

// 預定義錯誤
var (
	// ErrGameNotFound 遊戲未找到
	ErrGameNotFound = New(ErrCodeNotFound, "game not found")

	// ErrUserNotFound 使用者未找到
	ErrUserNotFound = New(ErrCodeNotFound, "user not found")

	// ErrQuestionNotFound 題目未找到
	ErrQuestionNotFound = New(ErrCodeNotFound, "question not found")

	// ErrGameFinished 遊戲已經結束
	ErrGameFinished = New(ErrCodeInvalidState, "game is already finished")

	// ErrGameFull 第二位玩家的位置已被佔用
	ErrGameFull = New(ErrCodeInvalidState, "game is not valid anymore")

	// ErrWrongAnswer 答案錯誤
	ErrWrongAnswer = New(ErrCodeWrongAnswer, "answer is wrong")

	// ErrRateLimited 超過請求配額
	ErrRateLimited = New(ErrCodeRateLimited, "rate limit exceeded")

	// ErrUnauthenticated 憑證驗證失敗
	ErrUnauthenticated = New(ErrCodeUnauthenticated, "invalid or missing credentials")

	// ErrStoreUnavailable 外部儲存不可用
	ErrStoreUnavailable = New(ErrCodeUnavailable, "entity store unavailable")

	// ErrVersionConflict 樂觀鎖版本衝突
	ErrVersionConflict = New(ErrCodeInvalidState, "concurrent modification detected")
)

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsInvalidState 檢查是否為狀態不符錯誤
func IsInvalidState(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeInvalidState
	}
	return false
}

// IsWrongAnswer 檢查是否為答案錯誤
func IsWrongAnswer(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeWrongAnswer
	}
	return false
}

// IsRateLimited 檢查是否為配額超限錯誤
func IsRateLimited(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeRateLimited
	}
	return false
}

// IsUnavailable 檢查是否為儲存不可用錯誤
func IsUnavailable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeUnavailable
	}
	return false
}
