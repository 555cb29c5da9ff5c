package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pavelanni/quizengine/internal/catalog"
	"github.com/pavelanni/quizengine/internal/model"
)

const maxUploadBytes = 10 << 20

type saveQuizResponse struct {
	Name      string `json:"name"`
	Questions int    `json:"questions"`
	Duplicate bool   `json:"duplicate"`
}

func (h *Handler) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := h.library.List()
	if err != nil {
		h.logger.Error("failed to list quizzes", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list quizzes")
		return
	}
	if quizzes == nil {
		quizzes = []catalog.QuizInfo{}
	}
	writeJSON(w, http.StatusOK, quizzes)
}

func (h *Handler) handleGetQuiz(w http.ResponseWriter, r *http.Request) {
	questions, err := h.library.Load(chi.URLParam(r, "name"))
	if errors.Is(err, catalog.ErrQuizNotFound) {
		writeError(w, http.StatusNotFound, "quiz not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load quiz", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load quiz")
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

// readUpload returns the uploaded question file: the "questions_file" part
// of a multipart form, or the raw request body.
func readUpload(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, errors.New("file too large")
		}
		file, _, err := r.FormFile("questions_file")
		if err != nil {
			return nil, errors.New("no file uploaded")
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	return io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
}

func (h *Handler) handleSaveQuiz(w http.ResponseWriter, r *http.Request) {
	name := catalog.SanitizeName(chi.URLParam(r, "name"))
	data, err := readUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hashBytes := sha256.Sum256(data)
	hash := hex.EncodeToString(hashBytes[:])
	questions := catalog.Parse(data)
	if len(questions) == 0 {
		writeError(w, http.StatusBadRequest, "no valid questions")
		return
	}

	if h.history != nil && name != "" {
		storedHash, err := h.history.GetImportedFileHash("quiz:" + name)
		if err != nil {
			h.logger.Error("failed to check import status", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if storedHash == hash {
			writeJSON(w, http.StatusOK, saveQuizResponse{Name: name, Questions: len(questions), Duplicate: true})
			return
		}
	}

	saved, err := h.library.Save(name, questions)
	if err != nil {
		h.logger.Error("failed to save quiz", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save quiz")
		return
	}

	if h.history != nil {
		if err := h.history.SetImportedFileHash("quiz:"+saved, hash); err != nil {
			h.logger.Error("failed to record import", "error", err)
		}
	}

	h.logger.Info("uploaded quiz", "name", saved, "count", len(questions))
	writeJSON(w, http.StatusCreated, saveQuizResponse{Name: saved, Questions: len(questions)})
}

func (h *Handler) handleDeleteQuiz(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := h.library.Delete(name)
	if errors.Is(err, catalog.ErrQuizNotFound) {
		writeError(w, http.StatusNotFound, "quiz not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to delete quiz", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete quiz")
		return
	}
	if h.history != nil {
		if err := h.history.SetImportedFileHash("quiz:"+catalog.SanitizeName(name), ""); err != nil {
			h.logger.Error("failed to clear import record", "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	var q model.RawQuestion
	if err := decodeJSON(r, &q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	err = h.library.UpdateQuestion(name, index, q)
	if errors.Is(err, catalog.ErrQuizNotFound) {
		writeError(w, http.StatusNotFound, "quiz not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.history != nil {
		if err := h.history.SetImportedFileHash("quiz:"+catalog.SanitizeName(name), ""); err != nil {
			h.logger.Error("failed to clear import record", "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// readImage returns the uploaded image and its file name: the "image" part
// of a multipart form, or the raw body named by ?filename=.
func readImage(r *http.Request) ([]byte, string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, "", errors.New("file too large")
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			return nil, "", errors.New("no image uploaded")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		return data, header.Filename, err
	}
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		return nil, "", errors.New("filename is required")
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	return data, filename, err
}

func (h *Handler) handleAddImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	data, filename, err := readImage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty image")
		return
	}

	att, err := h.library.AddImage(name, index, data, filename)
	if errors.Is(err, catalog.ErrQuizNotFound) {
		writeError(w, http.StatusNotFound, "quiz not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.history != nil {
		if err := h.history.SetImportedFileHash("quiz:"+catalog.SanitizeName(name), ""); err != nil {
			h.logger.Error("failed to clear import record", "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, att)
}

func (h *Handler) handleListImages(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	images, err := h.library.Images(chi.URLParam(r, "name"), index)
	if errors.Is(err, catalog.ErrQuizNotFound) {
		writeError(w, http.StatusNotFound, "quiz not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, images)
}
