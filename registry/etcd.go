package registry

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

type etcdRegister struct {
	ctx    context.Context
	cancel context.CancelFunc

	metadata string
	key      string
	cnf      *Config
	client   *clientv3.Client
	leaseID  clientv3.LeaseID // 租约 id
}

// NewEtcdRegister etcd 服务注册，key 为 {prefix}/{service}/{nodeid}
func NewEtcdRegister(cnf *Config) (Register, error) {
	cnf.init()
	etcdClient, err := clientv3.New(clientv3.Config{
		Endpoints:   cnf.Registries,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	nodeInfo, err := json.Marshal(cnf.Node)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &etcdRegister{
		ctx:    ctx,
		cancel: cancel,

		metadata: string(nodeInfo),
		key:      cnf.key(),
		cnf:      cnf,
		client:   etcdClient,
	}, nil
}

// Register 注册节点，之后每个心跳周期续租一次
func (er *etcdRegister) Register(ctx context.Context) {
	if err := er.register(); err != nil {
		er.cnf.Logger.Warnf("etcd register: %s register fail, err: %v", er.key, err)
	} else {
		er.cnf.Logger.Infof("etcd register: %s register succ", er.key)
	}

	tick := time.NewTicker(er.cnf.HeartBeatPeriod)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			er.Deregister()
			return
		case <-er.ctx.Done():
			return
		case <-tick.C:
			if er.leaseID > 0 {
				if err := er.leaseRenewal(); err != nil {
					er.cnf.Logger.Warnf("etcd register: %s, leaseid: %d, err: %v", er.key, er.leaseID, err)
					er.leaseID = 0
					continue
				}
				er.cnf.Logger.Debugf("etcd register: %s renewal succ", er.key)
			} else {
				if err := er.register(); err != nil {
					er.cnf.Logger.Warnf("etcd register: %s register fail, err: %v", er.key, err)
					continue
				}
				er.cnf.Logger.Infof("etcd register: %s register succ", er.key)
			}
		}
	}
}

// 注册
func (er *etcdRegister) register() error {
	ctx, cancel := context.WithTimeout(er.ctx, time.Second*5)
	defer cancel()
	resp, err := er.client.Grant(ctx, int64(er.cnf.HeartBeatPeriod.Seconds())+3)
	if err != nil {
		return err
	}

	_, err = er.client.Put(ctx, er.key, er.metadata, clientv3.WithLease(resp.ID))
	if err != nil {
		return err
	}
	er.leaseID = resp.ID
	return nil
}

// 续租
func (er *etcdRegister) leaseRenewal() error {
	ctx, cancel := context.WithTimeout(er.ctx, time.Second*5)
	defer cancel()
	_, err := er.client.KeepAliveOnce(ctx, er.leaseID)
	return err
}

// Deregister 注销节点
func (er *etcdRegister) Deregister() {
	select {
	case <-er.ctx.Done():
		return
	default:
	}
	er.cancel()
	defer er.client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := er.client.Delete(ctx, er.key); err != nil {
		er.cnf.Logger.Errorf("etcd register: %s deregister fail, err: %v", er.key, err)
	}
}

type etcdResolver struct {
	ctx    context.Context
	cancel context.CancelFunc

	prefix string
	cnf    *Config
	client *clientv3.Client
}

// NewEtcdResolver etcd 服务发现，监控 {prefix}/{service}/ 下的节点
func NewEtcdResolver(cnf *Config) (Resolver, error) {
	cnf.init()
	etcdClient, err := clientv3.New(clientv3.Config{
		Endpoints:   cnf.Registries,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &etcdResolver{
		ctx:    ctx,
		cancel: cancel,

		prefix: cnf.prefix(),
		cnf:    cnf,
		client: etcdClient,
	}, nil
}

// Watch 监控节点变化
func (ed *etcdResolver) Watch(callback WatchCallback) {
	defer ed.client.Close()
	ed.getAllService(callback)

	watch := ed.client.Watch(ed.ctx, ed.prefix, clientv3.WithPrefix())
	for {
		select {
		case <-ed.ctx.Done():
			return
		case ret, ok := <-watch:
			if !ok {
				return
			}
			if err := ret.Err(); err != nil {
				ed.cnf.Logger.Errorf("etcd resolver: watch err, err: %v", err)
				continue
			}
			for _, event := range ret.Events {
				if event.Kv == nil {
					continue
				}

				_, nodeid := splitKey(string(event.Kv.Key))
				switch event.Type {
				case clientv3.EventTypePut:
					ed.addOrUpdate(callback, nodeid, event.Kv.Value)
				case clientv3.EventTypeDelete:
					callback.Delete(nodeid)
				}
			}
		}
	}
}

func (ed *etcdResolver) getAllService(callback WatchCallback) {
	ctx, cancel := context.WithTimeout(ed.ctx, time.Second*5)
	defer cancel()
	result, err := ed.client.Get(ctx, ed.prefix, clientv3.WithPrefix())
	if err != nil {
		ed.cnf.Logger.Warnf("etcd resolver: etcd-client Get() fail, err: %v", err)
		return
	}

	for _, kv := range result.Kvs {
		_, nodeid := splitKey(string(kv.Key))
		ed.addOrUpdate(callback, nodeid, kv.Value)
	}
}

func (ed *etcdResolver) addOrUpdate(callback WatchCallback, nodeid string, value []byte) {
	var node Node
	if err := json.Unmarshal(value, &node); err != nil {
		ed.cnf.Logger.Warnf("etcd resolver: node %s: %v", nodeid, err)
		return
	}
	if node.NodeID == "" {
		node.NodeID = nodeid
	}
	if err := callback.AddOrUpdate(node); err != nil {
		ed.cnf.Logger.Warnf("etcd resolver: node %s AddOrUpdate fail, err: %v", nodeid, err)
	}
}

// Stop 停止监控
func (ed *etcdResolver) Stop() {
	ed.cancel()
}
