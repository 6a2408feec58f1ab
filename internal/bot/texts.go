// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bot

import (
	"fmt"
	"strings"

	"go.astrophena.name/ebbinghaus/internal/ebbinghaus"
)

const introText = `Привет! 👋 Я помогу тебе выучить материал по методу Эббингауза.

📈 Кривая забывания Эббингауза показывает, что мы забываем:
• 50%% информации через 20 минут
• 70%% через день
• 90%% через неделю

Но если повторять материал в определенные интервалы, информация закрепится в долговременной памяти навсегда!

🔬 Интервалы повторений:
📝 Сразу → ⏰ 20-30 мин → 🌆 Вечером → 📅 +1 день → 📅 +3 дня → 📅 +7 дней → 📅 +14 дней → 📅 +30 дней

💡 Каждое утро в %s я буду напоминать тебе о повторениях!`

const welcomeBackText = `Привет снова, %s! 👋

🎯 Готов продолжить изучение по методу Эббингауза?

📋 Доступные команды:
• Отправь текст - добавить новый материал
• /schedule - мои повторения
• /stats - статистика обучения
• /help - справка

📚 Просто отправь мне текст того, что изучил, и я создам расписание повторений!`

const helpText = `🔧 Доступные команды:

/start - Начать работу с ботом
/help - Показать эту справку
/schedule - Мои повторения (расписание)
/stats - Статистика обучения
/timezone - Часовой пояс
/notify - Время ежедневных напоминаний

📝 Как использовать:
1. Отправь мне текст с вопросами/темами, которые изучил
2. Я создам расписание повторений по методу Эббингауза
3. Получай напоминания: через 20 мин, вечером, утром в 07:00
4. Отмечай результат повторений кнопками ✅/❌
5. Используй /schedule чтобы посмотреть все свои повторения

🎯 Цель: закрепить знания в долговременной памяти!

🔬 Интервалы: сразу → 20 мин → вечером → +1 день → +3 дня → +7 дней → +14 дней → +30 дней`

const acknowledgedText = `Отлично! 🎉

Теперь давай начнем! Какие вопросы или темы ты сегодня изучил?

📚 Просто отправь мне текст с материалом, и я создам расписание повторений.

💡 Используй команду /schedule чтобы посмотреть свои повторения.`

const statsText = `📊 Твоя статистика обучения:

📚 Материалы:
• Всего добавлено: %d
• Активных: %d

🎯 Повторения:
• Успешных: %d ✅
• Неудачных: %d ❌
• Процент успеха: %.1f%%

📅 Расписание:
• На сегодня: %d
• Просрочено: %d
• На неделю: %d

👤 Аккаунт создан: %s`

const emptyScheduleText = `📅 У тебя пока нет запланированных повторений.

📚 Добавь новый материал, отправив мне текст того, что изучил!

💡 Я создам расписание повторений по методу Эббингауза.`

const scheduleErrorText = `❌ Произошла ошибка при получении расписания.

Попробуй позже или обратись к администратору.`

const (
	userNotFoundText     = "❌ Пользователь не найден. Используй /start"
	tooShortText         = "📝 Текст слишком короткий. Добавь больше деталей о том, что изучил."
	tooLongText          = "📝 Текст слишком длинный. Разбей на более короткие фрагменты."
	addMaterialErrorText = "❌ Произошла ошибка при добавлении материала. Попробуй позже."
	unknownCallbackText  = "❌ Неизвестная команда"
	callbackErrorText    = "❌ Произошла ошибка при обработке команды"
	malformedDataText    = "❌ Некорректный формат данных"
	completionErrorText  = "❌ Ошибка при обработке повторения"
	completedSuccessText = "✅ Повторение отмечено как успешное!\n\nОтлично! Продолжай в том же духе! 💪"
	completedFailedText  = "❌ Повторение отмечено как неудачное.\n\nНичего страшного: попробуй повторять материал почаще, чтобы успевать по расписанию Эббингауза 💪"
	timezoneText         = "🌍 Твой часовой пояс: %s\n\nЧтобы изменить его, отправь /timezone Область/Город, например /timezone Europe/Moscow"
	timezoneInvalidText  = "❌ Неизвестный часовой пояс: %s"
	timezoneSetText      = "✅ Часовой пояс изменен на %s"
	notifyText           = "⏰ Ежедневные напоминания приходят в %s (%s)\n\nЧтобы изменить время, отправь /notify ЧЧ:ММ, например /notify 08:30"
	notifyInvalidText    = "❌ Некорректное время. Используй формат ЧЧ:ММ, например 08:30"
	notifySetText        = "✅ Теперь напоминания будут приходить в %s (%s)"
)

func resultText(success bool) string {
	if success {
		return "✅ Отлично!"
	}
	return "❌ Ничего страшного!"
}

func completeAllText(success bool, n int) string {
	return fmt.Sprintf("%s\n\nОтмечено повторений: %d\n\n🎯 Помни: регулярность важнее идеального результата!\nУвидимся завтра! 💪", resultText(success), n)
}

// reminderResponseText is shown after the user answers a reminder about a
// review of the given kind.
func reminderResponseText(kind string, success bool, morning string) string {
	var name string
	switch kind {
	case ebbinghaus.ShortTerm:
		name = "⏰ 20-минутное повторение"
	case ebbinghaus.Evening:
		name = "🌆 Вечернее повторение"
	default:
		name = "Повторение"
	}
	name = strings.ToLower(name)

	var sb strings.Builder
	sb.WriteString(resultText(success) + "\n\n")
	if !success {
		fmt.Fprintf(&sb, "Ты пропустил %s.\n\n", name)
		sb.WriteString("💡 Помни: регулярность важнее идеального результата!\nПопробуй повторить материал позже.")
		return sb.String()
	}
	fmt.Fprintf(&sb, "Ты успешно выполнил %s! 💪", name)
	switch kind {
	case ebbinghaus.ShortTerm:
		sb.WriteString("\n\n🌆 Не забудь повторить материал вечером!")
	case ebbinghaus.Evening:
		fmt.Fprintf(&sb, "\n\n📅 Увидимся завтра утром в %s!", morning)
	}
	return sb.String()
}

func studyPlan(what, morning string) string {
	return fmt.Sprintf("🎯 Начинаем укреплять память! %s\n\n"+
		"📝 СЕЙЧАС - прочти еще раз\n"+
		"⏰ Через 20-30 минут\n"+
		"🌆 Вечером сегодня\n"+
		"📅 Завтра утром в %s", what, morning)
}
