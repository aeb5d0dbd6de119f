package friends

type userBasicResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type messageResponse struct {
	Message string `json:"message"`
}
