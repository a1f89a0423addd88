package xpolicy

import (
	"fmt"
	"net/netip"
	"strings"

	"go4.org/netipx"

	"github.com/omeyang/xthrottle/pkg/throttle/xcaller"
)

type ipRule struct {
	set    *netipx.IPSet
	policy *xcaller.Policy
}

type domainRule struct {
	// suffix 非空时为通配规则，形如 ".example.com"。
	suffix string
	host   string
	policy *xcaller.Policy
}

// Policy 编译后的节流策略，只读，可并发查询。
type Policy struct {
	id            string
	kind          xcaller.Kind
	maxConcurrent int64

	ips     []ipRule
	domains []domainRule
	roles   map[string]*xcaller.Policy
	def     *xcaller.Policy
}

// Compile 校验并编译策略。
func Compile(cfg Config) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Policy{id: cfg.ID, kind: cfg.Kind, maxConcurrent: cfg.MaxConcurrent}
	if cfg.Default != nil {
		def := *cfg.Default
		p.def = &def
	}

	for i := range cfg.Rules {
		r := cfg.Rules[i]
		cp := r.Policy
		var err error
		switch cfg.Kind {
		case xcaller.KindIP:
			err = p.addIP(r.Match, &cp)
		case xcaller.KindDomain:
			p.addDomain(r.Match, &cp)
		case xcaller.KindRole:
			p.addRole(r.Match, &cp)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: policy %q: rule[%d]: %w", ErrInvalidConfig, cfg.ID, i, err)
		}
	}
	return p, nil
}

// addIP 支持逗号分隔的多个表达式，每个表达式为 CIDR、a-b 区间或单个地址。
func (p *Policy) addIP(match string, cp *xcaller.Policy) error {
	var b netipx.IPSetBuilder
	for part := range strings.SplitSeq(match, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.Contains(part, "/"):
			prefix, err := netip.ParsePrefix(part)
			if err != nil {
				return err
			}
			b.AddPrefix(prefix.Masked())
		case strings.Contains(part, "-"):
			r, err := netipx.ParseIPRange(part)
			if err != nil {
				return err
			}
			b.AddRange(r)
		default:
			addr, err := netip.ParseAddr(part)
			if err != nil {
				return err
			}
			b.Add(addr.Unmap())
		}
	}
	set, err := b.IPSet()
	if err != nil {
		return err
	}
	p.ips = append(p.ips, ipRule{set: set, policy: cp})
	return nil
}

func (p *Policy) addDomain(match string, cp *xcaller.Policy) {
	match = strings.ToLower(strings.TrimSpace(match))
	if suffix, ok := strings.CutPrefix(match, "*"); ok && strings.HasPrefix(suffix, ".") {
		p.domains = append(p.domains, domainRule{suffix: suffix, policy: cp})
		return
	}
	p.domains = append(p.domains, domainRule{host: match, policy: cp})
}

func (p *Policy) addRole(match string, cp *xcaller.Policy) {
	if p.roles == nil {
		p.roles = make(map[string]*xcaller.Policy)
	}
	// 同一角色多条规则时先声明者优先。
	if _, ok := p.roles[match]; !ok {
		p.roles[match] = cp
	}
}

func (p *Policy) ID() string           { return p.id }
func (p *Policy) Kind() xcaller.Kind   { return p.kind }
func (p *Policy) MaxConcurrent() int64 { return p.maxConcurrent }

// Resolve 返回调用方适用的配置，没有命中且无默认规则时返回 nil。
func (p *Policy) Resolve(callerID, roleID string) *xcaller.Policy {
	lookup := p.kind.ConfigurationLookupKey(callerID, roleID)
	var hit *xcaller.Policy
	switch p.kind {
	case xcaller.KindIP:
		hit = p.resolveIP(lookup)
	case xcaller.KindDomain:
		hit = p.resolveDomain(lookup)
	case xcaller.KindRole:
		hit = p.roles[lookup]
	}
	if hit != nil {
		return hit
	}
	return p.def
}

func (p *Policy) resolveIP(caller string) *xcaller.Policy {
	addr, err := netip.ParseAddr(caller)
	if err != nil {
		ap, perr := netip.ParseAddrPort(caller)
		if perr != nil {
			return nil
		}
		addr = ap.Addr()
	}
	addr = addr.Unmap()
	for _, r := range p.ips {
		if r.set.Contains(addr) {
			return r.policy
		}
	}
	return nil
}

func (p *Policy) resolveDomain(caller string) *xcaller.Policy {
	host := strings.ToLower(strings.TrimSuffix(caller, "."))
	for _, r := range p.domains {
		if r.suffix == "" {
			if r.host == host {
				return r.policy
			}
			continue
		}
		if strings.HasSuffix(host, r.suffix) && len(host) > len(r.suffix) {
			return r.policy
		}
	}
	return nil
}

// CompileAll 编译一组策略，按标识索引；标识重复返回 ErrDuplicatePolicy。
func CompileAll(cfgs []Config) (map[string]*Policy, error) {
	out := make(map[string]*Policy, len(cfgs))
	for i := range cfgs {
		p, err := Compile(cfgs[i])
		if err != nil {
			return nil, err
		}
		if _, dup := out[p.id]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePolicy, p.id)
		}
		out[p.id] = p
	}
	return out, nil
}
