// Package xcounter 提供节流计数器存储。
//
// Store 暴露具名整数计数器、具名时间戳（毫秒）以及带值的共享锁，
// 四种实现共用同一接口与同一套键前缀：
//
//   - NewLocal: 进程内映射，单节点部署
//   - NewRedis: go-redis + redsync，集群部署
//   - NewEtcd: etcd clientv3，集群部署
//   - NewFallback: 分布式后端故障时透明降级到本地映射
//
// 锁语义：
//
// LockSharedKeys 以固定间隔（默认 5ms）重试 set-if-absent-with-expiry，
// 直到 LockTimeout（默认 500ms）。超时返回 (false, nil)，调用方应按
// "无法协调"处理并继续使用本地计数；锁自身的过期时间（LockExpiry，默认 2s）
// 与获取超时相互独立。
//
// 异步操作：
//
// AsyncGetAndAddCounter / AsyncGetAndAlterCounter 返回 *Future，结果为
// 修改前的值。复制器依赖这一点把"读-写"合并为一次往返。
package xcounter
