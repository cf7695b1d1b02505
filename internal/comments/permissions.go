package comments

import (
	"go.uber.org/zap"

	"github.com/example/arctica/internal/lens"
)

// CanComment reports whether the logged-in account may comment according to
// the post's operations. Only a passed validation allows it.
func CanComment(ops *lens.PostOperations) bool {
	return canComment(ops, zap.NewNop())
}

func canComment(ops *lens.PostOperations, log *zap.Logger) bool {
	if ops == nil || ops.CanComment == nil {
		return false
	}
	v := ops.CanComment
	switch v.Typename {
	case lens.ValidationPassed:
		return true
	case lens.ValidationFailed:
		fields := []zap.Field{zap.String("post_operations", ops.ID), zap.String("reason", v.Reason)}
		if v.UnsatisfiedRules != nil {
			fields = append(fields, zap.Any("unsatisfied_rules", v.UnsatisfiedRules))
		}
		log.Info("commenting not allowed", fields...)
		return false
	case lens.ValidationUnknown:
		// Extra checks are not supported here, so unknown is a denial.
		log.Info("commenting validation unknown", zap.String("post_operations", ops.ID), zap.Any("extra_checks_required", v.ExtraChecksRequired))
		return false
	default:
		return false
	}
}
