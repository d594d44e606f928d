package security

import (
	"WaRelay/tools/errs"
	jwtsec "WaRelay/tools/security"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// context key，后续 handler 统一用这几个 key 读取
const (
	CtxAuthKey     = "authorization"     // string
	CtxAuthHashKey = "authorizationHash" // string
	CtxClaimsKey   = "claims"            // *jwtsec.JWTClaims
)

type Options struct {
	HeaderToken               string // 默认 "authorization"
	HeaderHash                string // 默认 "authorizationHash"；可选，带了就校验
	EnableAuthorizationBearer bool   // 默认 true
	RequiredScope             string // 默认 "admin"；空则只校验签名
	JWT                       jwtsec.Options
}

var jwtOpts atomic.Pointer[jwtsec.Options]

// Configure 启动时设置签名参数；未配置时所有鉴权路由返回 401
func Configure(o jwtsec.Options) {
	jwtOpts.Store(&o)
}

func DefaultOptions() *Options {
	o := &Options{
		HeaderToken:               CtxAuthKey,
		HeaderHash:                CtxAuthHashKey,
		EnableAuthorizationBearer: true,
		RequiredScope:             "admin",
	}
	if p := jwtOpts.Load(); p != nil {
		o.JWT = *p
	}
	return o
}

func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
		hash := strings.TrimSpace(c.GetHeader(opts.HeaderHash))

		// 兼容 Authorization: Bearer xxx（HeaderToken 本身可能就是 Authorization）
		if token == "" && opts.EnableAuthorizationBearer {
			token = strings.TrimSpace(c.GetHeader("Authorization"))
		}
		if opts.EnableAuthorizationBearer {
			token = stripBearer(token)
		}
		if token == "" || len(opts.JWT.Secret) == 0 {
			deny(c, "missing token")
			return
		}

		claims, err := jwtsec.Verify(opts.JWT, token, hash)
		if err != nil {
			deny(c, err.Error())
			return
		}
		if opts.RequiredScope != "" && !claims.HasScope(opts.RequiredScope) {
			deny(c, "scope "+opts.RequiredScope+" required")
			return
		}

		c.Set(CtxAuthKey, token)
		if hash != "" {
			c.Set(CtxAuthHashKey, hash)
		}
		c.Set(CtxClaimsKey, claims)
		c.Next()
	}
}

// stripBearer 去掉大小写不敏感的 "Bearer " 前缀
func stripBearer(v string) string {
	const prefix = "bearer "
	if len(v) >= len(prefix) && strings.EqualFold(v[:len(prefix)], prefix) {
		return strings.TrimSpace(v[len(prefix):])
	}
	return v
}

func deny(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenInvalid.WithDetail(detail))
}
