// Package response 提供统一的 HTTP 响应格式
// 所有 API 都使用相同的响应结构，便于客户端处理
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
// code: 业务状态码（0 表示成功）
// message: 提示信息
// data: 响应数据
type Response struct {
	Code    int         `json:"code"`           // 业务状态码
	Message string      `json:"message"`        // 提示信息
	Data    interface{} `json:"data,omitempty"` // 响应数据，可选
}

// 业务状态码定义
const (
	CodeSuccess         = 0    // 成功
	CodeBadRequest      = 1000 // 请求参数错误
	CodeUnauthorized    = 1001 // 未授权
	CodeForbidden       = 1002 // 禁止访问
	CodeNotFound        = 1003 // 资源不存在
	CodeInternalError   = 1004 // 服务器内部错误
	CodeUserExists      = 1101 // 用户已存在
	CodeUserNotFound    = 1102 // 用户不存在
	CodePasswordWrong   = 1103 // 密码错误
	CodeProfileNotFound = 1201 // 资料不存在
	CodeFetchFailed     = 1301 // 读取消息失败
	CodeWriteFailed     = 1302 // 写入消息失败
	CodeMessageNotFound = 1303 // 消息不存在
	CodeSendPending     = 1304 // 上一条消息仍在发送
)

// Success 返回成功响应
// 参数:
//   - c: Gin 上下文
//   - data: 响应数据，可以是任意类型
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// SuccessWithMessage 返回成功响应（带自定义消息）
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: message,
		Data:    data,
	})
}

// Created 返回 201 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "创建成功",
		Data:    data,
	})
}

// ErrorWithCode 返回错误响应（带业务状态码）
// 参数:
//   - c: Gin 上下文
//   - httpCode: HTTP 状态码
//   - bizCode: 业务状态码
//   - message: 错误信息
func ErrorWithCode(c *gin.Context, httpCode, bizCode int, message string) {
	c.JSON(httpCode, Response{
		Code:    bizCode,
		Message: message,
	})
}

// BadRequest 返回 400 错误（请求参数错误）
func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusBadRequest, CodeBadRequest, message)
}

// Unauthorized 返回 401 错误（未授权）
func Unauthorized(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden 返回 403 错误（禁止访问）
func Forbidden(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusForbidden, CodeForbidden, message)
}

// NotFound 返回 404 错误（资源不存在）
func NotFound(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusNotFound, CodeNotFound, message)
}

// InternalError 返回 500 错误（服务器内部错误）
func InternalError(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusInternalServerError, CodeInternalError, message)
}

// UserExists 返回用户已存在错误
func UserExists(c *gin.Context) {
	ErrorWithCode(c, http.StatusBadRequest, CodeUserExists, "邮箱已注册")
}

// UserNotFound 返回用户不存在错误
func UserNotFound(c *gin.Context) {
	ErrorWithCode(c, http.StatusNotFound, CodeUserNotFound, "用户不存在")
}

// PasswordWrong 返回密码错误
func PasswordWrong(c *gin.Context) {
	ErrorWithCode(c, http.StatusUnauthorized, CodePasswordWrong, "密码错误")
}

// ProfileNotFound 返回资料不存在错误
func ProfileNotFound(c *gin.Context) {
	ErrorWithCode(c, http.StatusNotFound, CodeProfileNotFound, "尚未完成引导")
}

// MessageNotFound 返回消息不存在错误
func MessageNotFound(c *gin.Context) {
	ErrorWithCode(c, http.StatusNotFound, CodeMessageNotFound, "消息不存在")
}

// FetchFailed 返回读取消息失败
func FetchFailed(c *gin.Context) {
	ErrorWithCode(c, http.StatusBadGateway, CodeFetchFailed, "读取消息失败")
}

// WriteFailed 返回写入消息失败
func WriteFailed(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusUnprocessableEntity, CodeWriteFailed, message)
}

// SendPending 返回 409，同一用户同一频道已有消息在发送
func SendPending(c *gin.Context) {
	ErrorWithCode(c, http.StatusConflict, CodeSendPending, "上一条消息仍在发送")
}

// NoContent 返回 204 无内容响应（用于删除操作）
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
