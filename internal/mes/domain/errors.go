package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 错误类别
type Kind string

const (
	KindIllegalStateTransition     Kind = "IllegalStateTransition"
	KindMissingRequiredLink        Kind = "MissingRequiredLink"
	KindInvalidAssociation         Kind = "InvalidAssociation"
	KindEquipmentUnavailable       Kind = "EquipmentUnavailable"
	KindInsufficientStock          Kind = "InsufficientStock"
	KindInvalidSplit               Kind = "InvalidSplit"
	KindInvalidDispositionQuantity Kind = "InvalidDispositionQuantity"
	KindAlreadyResolved            Kind = "AlreadyResolved"
	KindAmendmentWindowExpired     Kind = "AmendmentWindowExpired"
	KindCollaboratorUnavailable    Kind = "CollaboratorUnavailable"
	KindNotFound                   Kind = "NotFound"
	KindInvalidArgument            Kind = "InvalidArgument"
)

// 哨兵错误，配合 errors.Is 按类别匹配
var (
	ErrIllegalStateTransition     = &Error{Kind: KindIllegalStateTransition}
	ErrMissingRequiredLink        = &Error{Kind: KindMissingRequiredLink}
	ErrInvalidAssociation         = &Error{Kind: KindInvalidAssociation}
	ErrEquipmentUnavailable       = &Error{Kind: KindEquipmentUnavailable}
	ErrInsufficientStock          = &Error{Kind: KindInsufficientStock}
	ErrInvalidSplit               = &Error{Kind: KindInvalidSplit}
	ErrInvalidDispositionQuantity = &Error{Kind: KindInvalidDispositionQuantity}
	ErrAlreadyResolved            = &Error{Kind: KindAlreadyResolved}
	ErrAmendmentWindowExpired     = &Error{Kind: KindAmendmentWindowExpired}
	ErrCollaboratorUnavailable    = &Error{Kind: KindCollaboratorUnavailable}
	ErrNotFound                   = &Error{Kind: KindNotFound}
	ErrInvalidArgument            = &Error{Kind: KindInvalidArgument}
)

// Error 领域错误，携带实体、ID、当前状态和尝试的操作，调用方无需回查即可展示
type Error struct {
	Kind   Kind   `json:"kind"`
	Entity string `json:"entity,omitempty"`
	ID     string `json:"id,omitempty"`
	State  string `json:"state,omitempty"`
	Op     string `json:"op,omitempty"`
	Detail string `json:"detail,omitempty"`
	Err    error  `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Entity != "" {
		fmt.Fprintf(&b, ": %s", e.Entity)
		if e.ID != "" {
			fmt.Fprintf(&b, "(%s)", e.ID)
		}
	}
	if e.Op != "" {
		fmt.Fprintf(&b, " op=%s", e.Op)
	}
	if e.State != "" {
		fmt.Fprintf(&b, " state=%s", e.State)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is 同类别即匹配；哨兵错误只设置了 Kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError 构造领域错误
func NewError(kind Kind, entity, id, state, op, detail string) *Error {
	return &Error{Kind: kind, Entity: entity, ID: id, State: state, Op: op, Detail: detail}
}

// IllegalTransition 状态不允许该操作
func IllegalTransition(entity, id, state, op string) *Error {
	return NewError(KindIllegalStateTransition, entity, id, state, op, "")
}

// NotFound 实体不存在
func NotFound(entity, id string) *Error {
	return NewError(KindNotFound, entity, id, "", "", "")
}

// InvalidArgument 参数校验失败
func InvalidArgument(entity, op, detail string) *Error {
	return NewError(KindInvalidArgument, entity, "", "", op, detail)
}

// CollaboratorUnavailable 外部协作系统不可用
func CollaboratorUnavailable(collaborator, op string, err error) *Error {
	e := NewError(KindCollaboratorUnavailable, collaborator, "", "", op, "")
	e.Err = err
	return e
}

// KindOf 返回错误链中第一个领域错误的类别
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
