package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/mlpad-dev/mlpad-cloud/pipeline-engine/internal/logging"
)

const (
	etcdTimeout   = 5 * time.Second
	maxRetries    = 5
	retryWaitTime = 2 * time.Second
)

var etcdLogger = logging.C("engine.store.etcd")

// EtcdStore is the default durable backend.
type EtcdStore struct {
	client *clientv3.Client
}

// NewEtcdStore dials etcd and verifies the connection before returning.
func NewEtcdStore(endpoints []string) (*EtcdStore, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: etcdTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), etcdTimeout)
	defer cancel()
	if _, err := cli.Get(ctx, "/health"); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to connect to etcd: %v", err)
	}

	return &EtcdStore{client: cli}, nil
}

func (s *EtcdStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Get performs a get operation with retries.
func (s *EtcdStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, etcdTimeout)
		resp, getErr := s.client.Get(opCtx, key)
		cancel()
		if getErr == nil {
			if len(resp.Kvs) == 0 {
				return nil, false, nil
			}
			return resp.Kvs[0].Value, true, nil
		}
		err = getErr
		etcdLogger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"key":     key,
		}).Warn("etcd get attempt failed")
		if attempt < maxRetries {
			time.Sleep(retryWaitTime)
		}
	}
	return nil, false, fmt.Errorf("failed to get key %s after %d attempts: %v", key, maxRetries+1, err)
}

// Set performs a put operation with retries.
func (s *EtcdStore) Set(ctx context.Context, key string, value []byte) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, etcdTimeout)
		_, err = s.client.Put(opCtx, key, string(value))
		cancel()
		if err == nil {
			return nil
		}
		etcdLogger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"key":     key,
		}).Warn("etcd put attempt failed")
		if attempt < maxRetries {
			time.Sleep(retryWaitTime)
		}
	}
	return fmt.Errorf("failed to put key %s after %d attempts: %v", key, maxRetries+1, err)
}

// Delete performs a delete operation with retries.
func (s *EtcdStore) Delete(ctx context.Context, key string) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, etcdTimeout)
		_, err = s.client.Delete(opCtx, key)
		cancel()
		if err == nil {
			return nil
		}
		etcdLogger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"key":     key,
		}).Warn("etcd delete attempt failed")
		if attempt < maxRetries {
			time.Sleep(retryWaitTime)
		}
	}
	return fmt.Errorf("failed to delete key %s after %d attempts: %v", key, maxRetries+1, err)
}

// List returns all pairs under prefix. etcd already sorts by key.
func (s *EtcdStore) List(ctx context.Context, prefix string) ([]KV, error) {
	opCtx, cancel := context.WithTimeout(ctx, etcdTimeout)
	defer cancel()
	resp, err := s.client.Get(opCtx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list prefix %s: %v", prefix, err)
	}
	out := make([]KV, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out = append(out, KV{Key: string(kv.Key), Value: kv.Value})
	}
	return out, nil
}
