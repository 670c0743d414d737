package registry

import (
	"context"
	"strings"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

const consulTag = "svcmux"

func newConsulClient(cnf *Config) (*consulapi.Client, error) {
	consulConfig := consulapi.DefaultConfig()
	if len(cnf.Registries) > 0 {
		consulConfig.Address = strings.Join(cnf.Registries, ",")
	}
	return consulapi.NewClient(consulConfig)
}

type consulRegister struct {
	ctx    context.Context
	cancel context.CancelFunc

	checkID string
	cnf     *Config
	client  *consulapi.Client
}

// NewConsulRegister consul 服务注册，节点通过 TTL 检查保持健康
func NewConsulRegister(cnf *Config) (Register, error) {
	cnf.init()
	consulClient, err := newConsulClient(cnf)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &consulRegister{
		ctx:    ctx,
		cancel: cancel,

		checkID: "svcmux:" + cnf.Node.NodeID,
		cnf:     cnf,
		client:  consulClient,
	}, nil
}

func (cr *consulRegister) registration() *consulapi.AgentServiceRegistration {
	ttl := cr.cnf.HeartBeatPeriod * 3
	return &consulapi.AgentServiceRegistration{
		Kind: consulapi.ServiceKindTypical,
		ID:   cr.cnf.Node.NodeID,
		Name: cr.cnf.Node.ServiceName,
		Tags: []string{consulTag},
		Meta: cr.cnf.Node.metadata(),
		Check: &consulapi.AgentServiceCheck{
			CheckID:                        cr.checkID,
			Name:                           "svcmux-ttl",
			TTL:                            ttl.String(),
			DeregisterCriticalServiceAfter: (ttl * 10).String(),
		},
	}
}

// Register 注册节点，之后每个心跳周期更新一次 TTL
func (cr *consulRegister) Register(ctx context.Context) {
	registered := false
	beat := func() {
		if !registered {
			if err := cr.client.Agent().ServiceRegister(cr.registration()); err != nil {
				cr.cnf.Logger.Warnf("consul register: registry fail, err: %v", err)
				return
			}
			registered = true
			cr.cnf.Logger.Infof("consul register: %s register succ", cr.cnf.Node.NodeID)
		}
		if err := cr.client.Agent().UpdateTTL(cr.checkID, "", consulapi.HealthPassing); err != nil {
			cr.cnf.Logger.Warnf("consul register: %s update ttl fail, err: %v", cr.checkID, err)
			registered = false
		}
	}
	beat()

	tick := time.NewTicker(cr.cnf.HeartBeatPeriod)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			cr.Deregister()
			return
		case <-cr.ctx.Done():
			return
		case <-tick.C:
			beat()
		}
	}
}

// Deregister 注销节点
func (cr *consulRegister) Deregister() {
	select {
	case <-cr.ctx.Done():
		return
	default:
	}
	cr.cancel()
	if cr.cnf.Node.NodeID != "" {
		if err := cr.client.Agent().ServiceDeregister(cr.cnf.Node.NodeID); err != nil {
			cr.cnf.Logger.Errorf("consul register: %s deregister fail, err: %v", cr.cnf.Node.NodeID, err)
		}
	}
}

type consulResolver struct {
	ctx    context.Context
	cancel context.CancelFunc

	cnf    *Config
	client *consulapi.Client
}

// NewConsulResolver consul 服务发现
func NewConsulResolver(cnf *Config) (Resolver, error) {
	cnf.init()
	consulClient, err := newConsulClient(cnf)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &consulResolver{
		ctx:    ctx,
		cancel: cancel,

		cnf:    cnf,
		client: consulClient,
	}, nil
}

// Watch 监控节点变化
func (cd *consulResolver) Watch(callback WatchCallback) {
	var lastIndex uint64
	known := make(map[string]struct{})
	for {
		select {
		case <-cd.ctx.Done():
			return
		default:
		}

		q := (&consulapi.QueryOptions{
			WaitIndex: lastIndex, // 阻塞查询，直到有新的更新
		}).WithContext(cd.ctx)
		services, querymeta, err := cd.client.Health().Service(cd.cnf.Node.ServiceName, consulTag, false, q)
		if err != nil {
			if cd.ctx.Err() != nil {
				return
			}
			cd.cnf.Logger.Warnf("consul resolver: watch fail, err: %v", err)
			select {
			case <-time.After(cd.cnf.HeartBeatPeriod):
			case <-cd.ctx.Done():
				return
			}
			continue
		}
		lastIndex = querymeta.LastIndex

		seen := make(map[string]struct{}, len(services))
		for _, service := range services {
			node, ok := nodeFromMetadata(service.Service.Meta)
			if !ok {
				continue
			}
			switch service.Checks.AggregatedStatus() {
			case consulapi.HealthPassing:
				seen[node.NodeID] = struct{}{}
				if err := callback.AddOrUpdate(node); err != nil {
					cd.cnf.Logger.Warnf("consul resolver: node %s AddOrUpdate fail, err: %v", node.NodeID, err)
				}
			case consulapi.HealthWarning, consulapi.HealthCritical:
				callback.Delete(node.NodeID)
			}
		}
		// 已经从 consul 中消失的节点
		for id := range known {
			if _, ok := seen[id]; !ok {
				callback.Delete(id)
			}
		}
		known = seen
	}
}

// Stop 停止监控
func (cd *consulResolver) Stop() {
	cd.cancel()
}
