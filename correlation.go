package svcmux

import (
	"sync"
	"time"
)

// Continuation 收到 solicit 对应的 response 时调用
type Continuation func(msg Message)

type pending struct {
	id    string
	path  string
	cont  Continuation
	abort func(err error) // 超时或连接关闭时调用
	timer *time.Timer
	span  *solicitSpan
}

// correlationTable 等待应答的 solicit：id -> pending
type correlationTable struct {
	m map[string]*pending

	mutex sync.Mutex
}

func newCorrelationTable() *correlationTable {
	return &correlationTable{m: make(map[string]*pending)}
}

// insert id 已存在时返回 false
//  ttl > 0 时到期调用 expire(id)
func (t *correlationTable) insert(p *pending, ttl time.Duration, expire func(id string)) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if _, ok := t.m[p.id]; ok {
		return false
	}
	if ttl > 0 && expire != nil {
		id := p.id
		p.timer = time.AfterFunc(ttl, func() { expire(id) })
	}
	t.m[p.id] = p
	return true
}

// take 取出并删除；保证同一个 id 只会被取出一次
func (t *correlationTable) take(id string) (*pending, bool) {
	t.mutex.Lock()
	p, ok := t.m[id]
	if ok {
		delete(t.m, id)
	}
	t.mutex.Unlock()
	if ok && p.timer != nil {
		p.timer.Stop()
	}
	return p, ok
}

func (t *correlationTable) len() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.m)
}

// drain 清空并返回所有等待中的条目
func (t *correlationTable) drain() []*pending {
	t.mutex.Lock()
	all := make([]*pending, 0, len(t.m))
	for id, p := range t.m {
		all = append(all, p)
		delete(t.m, id)
	}
	t.mutex.Unlock()
	for _, p := range all {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	return all
}
