package auth

import "context"

type subjectKey struct{}

// WithSubject 将通过认证的调用方写入上下文。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	subject.normalize()
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext 从上下文中读取调用方身份，未认证时返回 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	if subject, ok := ctx.Value(subjectKey{}).(*Subject); ok {
		subject.normalize()
		return subject
	}
	return nil
}
