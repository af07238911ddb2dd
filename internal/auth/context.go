package auth

import "context"

// userKey 是上下文中存储 User 的键类型。
type userKey struct{}

// WithUser 将当前登录用户存储到上下文中。
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext 从上下文中提取当前登录用户。
func UserFromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return User{}, false
	}
	user, ok := ctx.Value(userKey{}).(User)
	return user, ok
}
