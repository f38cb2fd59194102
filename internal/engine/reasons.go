package engine

// Decision reasons. These strings reach devices and the audit trail and are
// part of the external contract; change them only in coordination with the
// display firmware.
const (
	ReasonOK = "OK"

	ReasonNoLocation     = "Device no asociado a una sucursal"
	ReasonTypeNotEnabled = "Tipo no habilitado"
	ReasonOutsideHours   = "Fuera de horario"
	ReasonRateLimit      = "Rate limit"
	ReasonAntiPassback   = "Anti-passback"
	ReasonUnsupported    = "Tipo no soportado"
	ReasonBadConfig      = "Configuración inválida"

	ReasonManualDisabled = "Apertura manual deshabilitada"

	ReasonPINRequired = "PIN requerido"
	ReasonBadDNI      = "DNI inválido"
	ReasonUnknownDNI  = "DNI no registrado"
	ReasonBadPIN      = "PIN inválido"

	ReasonUnknownCredential = "Credencial no reconocida"
	ReasonBadCredential     = "Credencial inválida"
	ReasonCredentialUsed    = "Credencial ya usada"

	ReasonEnrollInactive = "Enroll no activo"
	ReasonEnrollExpired  = "Enroll expirado"
	ReasonEnrollMismatch = "Enroll no coincide"
	ReasonEnrolled       = "Credencial registrada"

	ReasonTokenInvalid = "Token inválido"
	ReasonTokenExpired = "Token expirado"
	ReasonTokenUsed    = "Token ya utilizado"

	ReasonAccessDenied = "Acceso denegado"
	ReasonServiceDown  = "Servicio no disponible"
)
