package database

import (
	"context"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UnitOfWork 事务边界；fn 返回错误则回滚，否则提交
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}
type hooksKey struct{}

type afterCommit struct {
	mu  sync.Mutex
	fns []func()
}

// GormUnitOfWork 基于 gorm 的事务实现，事务句柄放在 context 中供仓库取用
type GormUnitOfWork struct {
	db *gorm.DB
}

func NewUnitOfWork(db *gorm.DB) *GormUnitOfWork {
	return &GormUnitOfWork{db: db}
}

// WithTx 开启事务；context 中已有事务时直接加入外层事务
func (u *GormUnitOfWork) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	hooks := &afterCommit{}
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey{}, tx)
		txCtx = context.WithValue(txCtx, hooksKey{}, hooks)
		return fn(txCtx)
	})
	if err != nil {
		return err
	}
	hooks.mu.Lock()
	fns := hooks.fns
	hooks.mu.Unlock()
	for _, f := range fns {
		f()
	}
	return nil
}

// AfterCommit 注册提交后回调；不在事务中时立即执行
func AfterCommit(ctx context.Context, fn func()) {
	hooks, ok := ctx.Value(hooksKey{}).(*afterCommit)
	if !ok {
		fn()
		return
	}
	hooks.mu.Lock()
	hooks.fns = append(hooks.fns, fn)
	hooks.mu.Unlock()
}

// Conn 返回当前事务或默认连接
func Conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return db.WithContext(ctx)
}

// InTx 是否处于事务中
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok
}

// ForUpdate 行锁；sqlite 不支持 FOR UPDATE，整库写锁已保证串行
func ForUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// Savepoint 在当前事务内开保存点执行 fn，失败只回滚到保存点，外层事务仍可继续
func Savepoint(ctx context.Context, db *gorm.DB, fn func(ctx context.Context) error) error {
	return Conn(ctx, db).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}
