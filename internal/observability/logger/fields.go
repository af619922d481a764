package logger

import (
	"time"

	"go.uber.org/zap"
)

// Campos estándar del dominio. Mantener los nombres consistentes entre
// componentes hace que los logs sean agregables.

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// AccountID crea un campo para el ID de la cuenta.
func AccountID(v string) zap.Field {
	return zap.String("account_id", v)
}

// AccountName crea un campo para el nombre de la cuenta.
func AccountName(v string) zap.Field {
	return zap.String("account", v)
}

// Requester crea un campo para la identidad externa del requester.
func Requester(v int64) zap.Field {
	return zap.Int64("requester_id", v)
}

// Actor crea un campo para el actor de una operación.
func Actor(v string) zap.Field {
	return zap.String("actor", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// Duration crea un campo para una duración.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}
