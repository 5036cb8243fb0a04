package capture

import (
	"context"
	"strings"
)

// UnknownDevice is the last identity fallback.
const UnknownDevice = "Unknown device"

// IdentityStrategy yields an identity string or "" to defer to the next one.
type IdentityStrategy func(ctx context.Context) string

// ResolveIdentity returns the first non-empty strategy result, or UnknownDevice.
func ResolveIdentity(ctx context.Context, strategies ...IdentityStrategy) string {
	for _, strategy := range strategies {
		if strategy == nil {
			continue
		}
		if value := strings.TrimSpace(strategy(ctx)); value != "" {
			return value
		}
	}
	return UnknownDevice
}

// ProfilePhone uses the signed-in user's stored phone number.
func ProfilePhone(s Session) IdentityStrategy {
	return func(context.Context) string {
		snap := s.Snapshot()
		if snap.User == nil {
			return ""
		}
		return snap.User.PhoneNumber()
	}
}

// DeviceDescriptor renders "Device: <model> (<brand>)".
func DeviceDescriptor(info DeviceInfo) IdentityStrategy {
	return func(ctx context.Context) string {
		if info == nil {
			return ""
		}
		model, brand, err := info.Describe(ctx)
		model, brand = strings.TrimSpace(model), strings.TrimSpace(brand)
		if err != nil || model == "" {
			return ""
		}
		if brand == "" {
			return "Device: " + model
		}
		return "Device: " + model + " (" + brand + ")"
	}
}

// Literal always yields value.
func Literal(value string) IdentityStrategy {
	return func(context.Context) string { return value }
}
