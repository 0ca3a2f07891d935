package validation

// Field messages returned in validation details
const (
	MsgInvalidEmail        = "Неверный формат email"
	MsgPasswordTooShort    = "Пароль должен быть не менее 6 символов"
	MsgPasswordRequired    = "Пароль обязателен"
	MsgFirstNameRequired   = "Имя обязательно"
	MsgLastNameRequired    = "Фамилия обязательна"
	MsgInvalidPhone        = "Телефон должен содержать ровно 10 цифр"
	MsgOldPasswordRequired = "Старый пароль обязателен"
	MsgNewPasswordTooShort = "Новый пароль должен быть не менее 6 символов"
	MsgNotificationText    = "Текст уведомления обязателен"
	MsgRolesRequired       = "Роли должны быть непустыми строками"
	MsgInvalidPrivacy      = "Настройки приватности должны быть объектом"
	MsgEmptyString         = "Значение не может быть пустым"
)

// MinPasswordLength is the shortest accepted password
const MinPasswordLength = 6
