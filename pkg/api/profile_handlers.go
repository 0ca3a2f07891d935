package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/httputil"
	"github.com/tutorhub/tutorhub/pkg/middleware"
	"github.com/tutorhub/tutorhub/pkg/observability"
	"github.com/tutorhub/tutorhub/pkg/storage"
	"github.com/tutorhub/tutorhub/pkg/validation"
)

// MaxAvatarSize is the largest accepted avatar upload
const MaxAvatarSize = 5 << 20

// Avatar upload messages
const (
	MsgAvatarMissing  = "Файл не найден"
	MsgAvatarTooLarge = "Файл слишком большой (максимум 5MB)"
	MsgAvatarType     = "Недопустимый тип файла. Разрешены: JPEG, PNG, WebP"
)

// avatarTypes maps accepted image types to file extensions
var avatarTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// ProfileHandlers handles profile updates and avatar uploads
type ProfileHandlers struct {
	store   storage.Store
	avatars storage.AvatarStore
	now     func() time.Time
}

// NewProfileHandlers creates the profile handlers. Without an avatar store
// the upload route is not registered.
func NewProfileHandlers(store storage.Store, avatars storage.AvatarStore) *ProfileHandlers {
	return &ProfileHandlers{
		store:   store,
		avatars: avatars,
		now:     time.Now,
	}
}

// RegisterRoutes registers profile routes
func (h *ProfileHandlers) RegisterRoutes(router *mux.Router, session *middleware.SessionMiddleware) {
	router.Handle("/api/auth/profile", session.RequireSession(http.HandlerFunc(h.replace))).Methods(http.MethodPut)
	router.Handle("/api/auth/profile", session.RequireSession(http.HandlerFunc(h.patch))).Methods(http.MethodPatch)
	if h.avatars != nil {
		router.Handle("/api/upload/avatar", session.RequireSession(http.HandlerFunc(h.uploadAvatar))).Methods(http.MethodPost)
	}
}

// profileRequest carries optional profile fields; nil means absent
type profileRequest struct {
	FirstName *string         `json:"firstName"`
	LastName  *string         `json:"lastName"`
	Avatar    *string         `json:"avatar"`
	Role      *string         `json:"role"`
	Interests *[]string       `json:"interests"`
	Phone     *string         `json:"phone"`
	Privacy   json.RawMessage `json:"privacy"`
}

// validate checks the provided fields and returns the normalized update
func (req profileRequest) validate() (auth.ProfileUpdate, validation.Issues) {
	v := validation.NewValidator()
	upd := auth.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Avatar:    req.Avatar,
		Role:      req.Role,
		Interests: req.Interests,
	}

	if req.Phone != nil {
		phone := v.Phone("phone", *req.Phone)
		upd.Phone = &phone
	}

	privacy := bytes.TrimSpace(req.Privacy)
	if len(privacy) > 0 && !bytes.Equal(privacy, []byte("null")) {
		if !validation.IsJSONObject(privacy) {
			v.Add(validation.CodeInvalidType, validation.MsgInvalidPrivacy, "privacy")
		}
		upd.Privacy = json.RawMessage(privacy)
	}

	return upd, v.Issues()
}

// replace handles PUT /api/auth/profile
func (h *ProfileHandlers) replace(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decodeBody(w, r, &req) {
		return
	}

	upd, issues := req.validate()
	if len(issues) > 0 {
		httputil.WriteAPIError(w, r, httputil.ValidationError(issues))
		return
	}
	h.save(w, r, upd)
}

// patch handles PATCH /api/auth/profile. Only role, interests and privacy
// are applied.
func (h *ProfileHandlers) patch(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decodeBody(w, r, &req) {
		return
	}

	upd, issues := req.validate()
	if len(issues) > 0 {
		httputil.WriteAPIError(w, r, httputil.ValidationError(issues))
		return
	}
	h.save(w, r, auth.ProfileUpdate{
		Role:      upd.Role,
		Interests: upd.Interests,
		Privacy:   upd.Privacy,
	})
}

func (h *ProfileHandlers) save(w http.ResponseWriter, r *http.Request, upd auth.ProfileUpdate) {
	ctx := r.Context()
	userID := callerID(r)

	if upd.Phone != nil {
		taken, err := h.store.PhoneExists(ctx, *upd.Phone, userID)
		if err != nil {
			httputil.WriteAPIError(w, r, httputil.Internal(err))
			return
		}
		if taken {
			httputil.WriteAPIError(w, r, httputil.Conflict(MsgPhoneTaken))
			return
		}
	}

	profile, err := h.store.UpsertProfile(ctx, userID, upd)
	if err != nil {
		writeStoreError(w, r, err, MsgUserNotFound)
		return
	}
	httputil.WriteSuccess(w, httputil.M{"profile": profile})
}

// uploadAvatar handles POST /api/upload/avatar
func (h *ProfileHandlers) uploadAvatar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxAvatarSize+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteAPIError(w, r, httputil.NewError(httputil.KindValidation, MsgAvatarTooLarge))
			return
		}
		httputil.WriteAPIError(w, r, httputil.NewError(httputil.KindValidation, MsgAvatarMissing))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteAPIError(w, r, httputil.NewError(httputil.KindValidation, MsgAvatarMissing))
		return
	}
	defer file.Close()

	if header.Size > MaxAvatarSize {
		httputil.WriteAPIError(w, r, httputil.NewError(httputil.KindValidation, MsgAvatarTooLarge))
		return
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		httputil.WriteAPIError(w, r, httputil.Internal(err))
		return
	}
	head = head[:n]

	contentType, ext := avatarType(head, header.Header.Get("Content-Type"))
	if ext == "" {
		httputil.WriteAPIError(w, r, httputil.NewError(httputil.KindValidation, MsgAvatarType))
		return
	}

	ctx := r.Context()
	userID := callerID(r)
	name := fmt.Sprintf("%s_%d.%s", userID, h.now().UnixMilli(), ext)

	url, err := h.avatars.PutAvatar(ctx, name, io.MultiReader(bytes.NewReader(head), file), contentType)
	if err != nil {
		httputil.WriteAPIError(w, r, httputil.Internal(err))
		return
	}

	if _, err := h.store.UpsertProfile(ctx, userID, auth.ProfileUpdate{Avatar: &url}); err != nil {
		writeStoreError(w, r, err, MsgUserNotFound)
		return
	}

	observability.FromContext(ctx).
		WithFields(map[string]interface{}{"user_id": userID, "size": header.Size}).
		Info("Avatar uploaded")
	httputil.WriteSuccess(w, httputil.M{"avatarUrl": url})
}

// avatarType sniffs the content type, falling back to the declared one
func avatarType(head []byte, declared string) (string, string) {
	sniffed := http.DetectContentType(head)
	if ext, ok := avatarTypes[sniffed]; ok {
		return sniffed, ext
	}
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
		mediaType = strings.ToLower(mediaType)
		if ext, ok := avatarTypes[mediaType]; ok {
			return mediaType, ext
		}
	}
	return "", ""
}
