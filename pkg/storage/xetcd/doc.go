// Package xetcd 按配置创建 etcd 客户端，供 etcd 计数存储使用。
//
// 客户端的 keepalive 参数只通过 gRPC DialOption 设置，可选在创建后
// 执行一次读操作校验连通性与凭证。
package xetcd
