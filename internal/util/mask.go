// Package util reúne helpers chicos sin dependencias del dominio.
package util

import "strings"

// MaskEmail deja ver la inicial del usuario y del dominio; sirve para
// loguear la identidad del asesor sin exponerla.
func MaskEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	i := strings.IndexByte(s, '@')
	if i <= 0 {
		return maskPlain(s)
	}
	user, dom := s[:i], s[i+1:]
	if len(user) > 1 {
		user = user[:1] + "…"
	}
	dparts := strings.Split(dom, ".")
	if len(dparts[0]) > 1 {
		dparts[0] = dparts[0][:1] + "…"
	}
	return user + "@" + strings.Join(dparts, ".")
}

// MaskToken conserva solo los últimos 4 caracteres de un bearer token.
func MaskToken(tok string) string {
	tok = strings.TrimSpace(tok)
	if len(tok) <= 8 {
		return maskPlain(tok)
	}
	return "…" + tok[len(tok)-4:]
}

func maskPlain(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 3:
		return "***"
	}
	return s[:1] + "…" + s[len(s)-1:]
}
