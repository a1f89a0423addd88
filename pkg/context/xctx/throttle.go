package xctx

import "context"

// 限流维度日志 Key。
const (
	KeyNodeID   = "node_id"
	KeyPolicyID = "policy_id"
	KeyCallerID = "caller_id"

	throttleFieldCount = 3
)

const (
	keyNodeID   = contextKey("xctx:node_id")
	keyPolicyID = contextKey("xctx:policy_id")
	keyCallerID = contextKey("xctx:caller_id")
)

// WithNodeID 注入节点标识。
func WithNodeID(ctx context.Context, nodeID string) (context.Context, error) {
	return withString(ctx, keyNodeID, nodeID)
}

// NodeID 读取节点标识。
func NodeID(ctx context.Context) string {
	return stringValue(ctx, keyNodeID)
}

// WithPolicyID 注入限流策略标识。
func WithPolicyID(ctx context.Context, policyID string) (context.Context, error) {
	return withString(ctx, keyPolicyID, policyID)
}

// PolicyID 读取限流策略标识。
func PolicyID(ctx context.Context) string {
	return stringValue(ctx, keyPolicyID)
}

// WithCallerID 注入调用方标识。
func WithCallerID(ctx context.Context, callerID string) (context.Context, error) {
	return withString(ctx, keyCallerID, callerID)
}

// CallerID 读取调用方标识。
func CallerID(ctx context.Context) string {
	return stringValue(ctx, keyCallerID)
}

// WithThrottle 一次性注入策略与调用方，空值跳过。
func WithThrottle(ctx context.Context, policyID, callerID string) (context.Context, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if policyID != "" {
		ctx = context.WithValue(ctx, keyPolicyID, policyID)
	}
	if callerID != "" {
		ctx = context.WithValue(ctx, keyCallerID, callerID)
	}
	return ctx, nil
}
