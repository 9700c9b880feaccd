// Package validation содержит функции валидации входных данных.
package validation

const maxLoginLength = 39

// IsValidLogin проверяет корректность логина аккаунта: латинские буквы, цифры
// и одиночные дефисы, без дефисов в начале и в конце, не длиннее 39 символов.
func IsValidLogin(login string) bool {
	if login == "" || len(login) > maxLoginLength {
		return false
	}

	prevHyphen := false
	for i := 0; i < len(login); i++ {
		ch := login[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			prevHyphen = false
		case ch == '-':
			if i == 0 || i == len(login)-1 || prevHyphen {
				return false
			}
			prevHyphen = true
		default:
			return false
		}
	}

	return true
}

// IsValidAccountID проверяет корректность непрозрачного идентификатора аккаунта.
// Идентификаторы приходят в кодировке base64 либо в новом формате с префиксом
// и подчёркиваниями, поэтому допускается соответствующий набор символов.
func IsValidAccountID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}

	for i := 0; i < len(id); i++ {
		ch := id[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '+', ch == '/', ch == '=', ch == '_', ch == '-':
		default:
			return false
		}
	}

	return true
}
