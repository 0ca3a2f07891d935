// Package validation checks and normalizes request input.
//
// Checks are collected rather than returned one at a time so a single 400
// response can list every invalid field:
//
//	v := validation.NewValidator()
//	v.Email("email", req.Email).
//		MinLength("password", req.Password, validation.MinPasswordLength, validation.MsgPasswordTooShort)
//	phone := v.Phone("phone", req.Phone)
//	if !v.Valid() {
//		return httputil.ValidationError(v.Issues())
//	}
package validation
