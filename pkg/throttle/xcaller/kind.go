package xcaller

import (
	"fmt"
	"strings"
)

// Kind 调用方类别。
type Kind int

const (
	KindIP Kind = iota + 1
	KindDomain
	KindRole
)

// String 返回类别名。
func (k Kind) String() string {
	switch k {
	case KindIP:
		return "ip"
	case KindDomain:
		return "domain"
	case KindRole:
		return "role"
	default:
		return "unknown"
	}
}

// ConfigurationLookupKey 返回用于查找调用方配置的键。
// ip 与 domain 按调用方标识查找，role 按角色查找。
func (k Kind) ConfigurationLookupKey(callerID, roleID string) string {
	if k == KindRole {
		return roleID
	}
	return callerID
}

// ParseKind 解析类别名，大小写不敏感。
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ip":
		return KindIP, nil
	case "domain":
		return KindDomain, nil
	case "role":
		return KindRole, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// MarshalText 实现 encoding.TextMarshaler。
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
