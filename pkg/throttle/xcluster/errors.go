package xcluster

import "errors"

var (
	// ErrNilTransport 未提供传输层。
	ErrNilTransport = errors.New("xcluster: nil transport")

	// ErrNilClient 未提供 Redis 客户端。
	ErrNilClient = errors.New("xcluster: nil redis client")

	// ErrEmptyNodeID 节点标识为空。
	ErrEmptyNodeID = errors.New("xcluster: empty node id")

	// ErrEmptyChannel 频道为空。
	ErrEmptyChannel = errors.New("xcluster: empty channel")

	// ErrClosed 传输层已关闭。
	ErrClosed = errors.New("xcluster: transport closed")

	// ErrInvalidOption 选项取值非法。
	ErrInvalidOption = errors.New("xcluster: invalid option")
)
