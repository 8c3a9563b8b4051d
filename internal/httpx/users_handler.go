package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/gift-orders/internal/users"
	"github.com/go-chi/chi/v5"
)

type UserService interface {
	Register(ctx context.Context, email, password, name string) (users.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	KakaoLogin(ctx context.Context, code string) (users.KakaoLoginResult, error)
}

type KakaoLinks interface {
	AuthorizeURL() string
}

type UsersHandler struct {
	Users UserService
	Kakao KakaoLinks
}

type registerReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=4"`
	Name     string `json:"name" validate:"required"`
}

type loginReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type userResp struct {
	ID    int64   `json:"id"`
	Email *string `json:"email,omitempty"`
	Name  string  `json:"name"`
}

type tokenResp struct {
	Token string `json:"token"`
	// KakaoAccessToken is sent back as X-Kakao-Access-Token when ordering.
	KakaoAccessToken string    `json:"kakaoAccessToken,omitempty"`
	User             *userResp `json:"user,omitempty"`
}

func (h *UsersHandler) Register(r chi.Router) {
	r.Post("/api/users/register", h.register)
	r.Post("/api/users/login", h.login)
	r.Get("/api/oauth/kakao/login", h.kakaoRedirect)
	r.Get("/api/oauth/kakao/callback", h.kakaoCallback)
}

func (h *UsersHandler) register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if !decode(w, r, &req) {
		return
	}
	u, err := h.Users.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResp{ID: u.ID, Email: u.Email, Name: u.Name})
}

func (h *UsersHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if !decode(w, r, &req) {
		return
	}
	tok, err := h.Users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResp{Token: tok})
}

func (h *UsersHandler) kakaoRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.Kakao.AuthorizeURL(), http.StatusFound)
}

func (h *UsersHandler) kakaoCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_REQUEST", Message: "missing code"})
		return
	}
	res, err := h.Users.KakaoLogin(r.Context(), code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResp{
		Token:            res.Token,
		KakaoAccessToken: res.KakaoAccessToken,
		User:             &userResp{ID: res.User.ID, Email: res.User.Email, Name: res.User.Name},
	})
}
