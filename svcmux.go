// Package svcmux 在一条双工连接上复用 notify、solicit/response、
// request|consume/reply 三种交互。
//
//	notify   : { notify:   <path>, ...payload }
//	solicit  : { solicit:  <path>, id: <token>, ...payload }
//	response : { response: <path>, id: <token>, ...payload }
//	request  : { request:  <path>, id: <token>, ...payload }
//	consume  : { consume:  <path>, id: <token>, ...payload }
//	reply    : { reply:    <path-or-leaf>, id: <token>, ...payload }
package svcmux

import (
	"sync"

	"github.com/panjf2000/ants/v2"
)

var (
	goroutinePool *ants.Pool
	poolOnce      sync.Once
	poolMutex     sync.Mutex
)

// SetWorkPoolSize 设置包级工作池大小（默认无限大）
func SetWorkPoolSize(size int) (err error) {
	poolMutex.Lock()
	defer poolMutex.Unlock()
	if goroutinePool == nil {
		goroutinePool, err = ants.NewPool(size)
		return
	}
	goroutinePool.Tune(size)
	return
}

func defaultPool() *ants.Pool {
	poolOnce.Do(func() {
		poolMutex.Lock()
		defer poolMutex.Unlock()
		if goroutinePool == nil {
			// size <= 0 时 ants 不限制大小
			goroutinePool, _ = ants.NewPool(0)
		}
	})
	poolMutex.Lock()
	defer poolMutex.Unlock()
	return goroutinePool
}
