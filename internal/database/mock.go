package database

import (
	"github.com/stretchr/testify/mock"
)

type MockBoardRepository struct {
	mock.Mock
}

func (m *MockBoardRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockBoardRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockBoardRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockBoardRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockBoardRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockBoardRepository) GetRoomById(id int) (Room, error) {
	args := m.Called(id)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockBoardRepository) GetRoomBySlug(slug string) (Room, error) {
	args := m.Called(slug)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockBoardRepository) ListRoomsByAdmin(accountId int) ([]Room, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockBoardRepository) CreateChat(params CreateChatParams) (Chat, error) {
	args := m.Called(params)
	return args.Get(0).(Chat), args.Error(1)
}
func (m *MockBoardRepository) GetChats(roomId, limit int) ([]Chat, error) {
	args := m.Called(roomId, limit)
	return args.Get(0).([]Chat), args.Error(1)
}
