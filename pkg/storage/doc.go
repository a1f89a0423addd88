// Package storage 提供存储客户端相关的子包。
//
// 子包列表：
//   - xetcd: 按配置创建 etcd 客户端
package storage
