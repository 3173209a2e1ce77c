// Package chat is the Twitch chat link of the commander.
//
// Client connects to Twitch IRC for TWITCH_CHANNEL as TWITCH_BOT_USERNAME,
// converts channel messages into command.Message values (sender roles derived
// from the broadcaster, moderator and subscriber badges) and sends replies
// through a token-bucket throttle (CHAT_RATE_LIMIT per CHAT_RATE_WINDOW).
//
// Credentials: the IRC client requires a user OAuth token with
// chat:read/chat:edit scopes. The token is requested from a
// twitchapi.ChatTokenSource on every connect, so a refresh-token setup keeps
// working across reconnects.
package chat
