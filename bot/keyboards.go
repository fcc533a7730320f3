package bot

import (
	"fmt"

	"matrixvpn/entity"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
)

func welcomeKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{
			{{Text: "Request access", CallbackData: cbRequest}},
			{{Text: "Free trial", CallbackData: cbTrial}},
			{{Text: "Buy subscription", CallbackData: cbBuy}},
		},
	}
}

// renewalKeyboard is offered to denied and expired users.
func renewalKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{
			{{Text: "Request access again", CallbackData: cbRequest}},
			{{Text: "Buy subscription", CallbackData: cbBuy}},
		},
	}
}

// activeKeyboard combines config downloads with a renewal shortcut.
func activeKeyboard(protocols []entity.Protocol) tgbotapi.InlineKeyboardMarkup {
	kb := configKeyboard(protocols)
	kb.InlineKeyboard = append(kb.InlineKeyboard,
		[]tgbotapi.InlineKeyboardButton{{Text: "Extend subscription", CallbackData: cbBuy}},
	)
	return kb
}

// configKeyboard lists one download button per managed protocol.
func configKeyboard(protocols []entity.Protocol) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range protocols {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{{
			Text:         p.Name,
			CallbackData: fmt.Sprintf("%s:%s", cbConfig, p.Code),
		}})
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// reviewKeyboard is attached to the admin's copy of an access request.
func reviewKeyboard(userId int64, days int) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{
			{
				{Text: fmt.Sprintf("Approve %dd", days), CallbackData: fmt.Sprintf("%s:%d:%d", cbApprove, userId, days)},
				{Text: "Deny", CallbackData: fmt.Sprintf("%s:%d", cbDeny, userId)},
			},
		},
	}
}

// regrantKeyboard is attached to expiry alerts so the admin can restore the
// user without typing commands.
func regrantKeyboard(userId int64, days int) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{
			{{Text: fmt.Sprintf("Regrant %dd", days), CallbackData: fmt.Sprintf("%s:%d:%d", cbRegrant, userId, days)}},
		},
	}
}
