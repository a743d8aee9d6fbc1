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
	// ErrCodeAlreadyExists 資源已存在
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeLockUnavailable 鎖取得失敗（可重試）
	ErrCodeLockUnavailable = "LOCK_UNAVAILABLE"
	// ErrCodeConsistency 共享儲存與佇列狀態不一致（該請求視為致命）
	ErrCodeConsistency = "CONSISTENCY_VIOLATION"
	// ErrCodeInvalidMessage 協定訊息格式錯誤
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	// ErrCodeRoomFull 房間已滿
	ErrCodeRoomFull = "ROOM_FULL"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
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

// WithDetails 添加詳細資訊；回傳副本，預定義錯誤不被改動
func (e *AppError) WithDetails(details string) *AppError {
	clone := *e
	clone.Details = details
	return &clone
}

// 預定義錯誤
var (
	// ErrPlayerNotFound 玩家記錄未找到
	ErrPlayerNotFound = New(ErrCodeNotFound, "player not found")

	// ErrRoomNotFound 房間記錄未找到
	ErrRoomNotFound = New(ErrCodeNotFound, "room not found")

	// ErrLockUnavailable 配對鎖在重試次數內未取得
	ErrLockUnavailable = New(ErrCodeLockUnavailable, "lock unavailable after retries")

	// ErrRoomFull 房間人數已達上限
	ErrRoomFull = New(ErrCodeRoomFull, "room is full")

	// ErrInvalidMessage 協定訊息不在已知集合內
	ErrInvalidMessage = New(ErrCodeInvalidMessage, "invalid message format")

	// ErrStoreUnavailable 共享儲存不可用
	ErrStoreUnavailable = New(ErrCodeUnavailable, "shared store unavailable")
)

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsLockUnavailable 檢查是否為鎖取得失敗（呼叫端應視為可重試）
func IsLockUnavailable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeLockUnavailable
	}
	return false
}

// IsConsistency 檢查是否為一致性錯誤
func IsConsistency(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeConsistency
	}
	return false
}

// IsRoomFull 檢查是否為房間已滿錯誤
func IsRoomFull(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeRoomFull
	}
	return false
}
