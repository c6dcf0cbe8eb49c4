package database

type BoardRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoomById(id int) (Room, error)
	GetRoomBySlug(slug string) (Room, error)
	ListRoomsByAdmin(accountId int) ([]Room, error)
	CreateChat(params CreateChatParams) (Chat, error)
	GetChats(roomId, limit int) ([]Chat, error)
}
