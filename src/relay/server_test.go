package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	goimage "image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"medibot-server-go/src/configs"
	"medibot-server-go/src/core/image"
	"medibot-server-go/src/core/providers"
	"medibot-server-go/src/core/utils"

	"github.com/gin-gonic/gin"
)

type fakeTextModel struct {
	response    string
	err         error
	gotMessages []providers.Message
}

func (f *fakeTextModel) Response(ctx context.Context, messages []providers.Message) (string, error) {
	f.gotMessages = messages
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type fakeVisionModel struct {
	response    string
	err         error
	gotMessages []providers.Message
	gotImage    image.ImageData
	gotText     string
}

func (f *fakeVisionModel) ResponseWithImage(ctx context.Context, messages []providers.Message, imageData image.ImageData, text string) (string, error) {
	f.gotMessages = messages
	f.gotImage = imageData
	f.gotText = text
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func newTestLogger(t *testing.T) *utils.Logger {
	t.Helper()
	config := &configs.Config{}
	config.Log.LogDir = t.TempDir()
	config.Log.LogFile = "test.log"
	config.Log.LogLevel = "error"

	logger, err := utils.NewLogger(config)
	if err != nil {
		t.Fatalf("创建测试日志失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func newTestService(t *testing.T, textModel TextModel, visionModel VisionModel) (*DefaultRelayService, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := newTestLogger(t)

	service := &DefaultRelayService{
		logger:       logger,
		config:       &configs.Config{},
		textModel:    textModel,
		visionModel:  visionModel,
		detector:     StubDetector{},
		validator:    image.NewImageSecurityValidator(&configs.SecurityConfig{}, logger),
		llmModelID:   "openai/gpt-3.5-turbo",
		vlllmModelID: "google/gemini-2.5-flash",
		systemPrompt: "test system prompt",
	}

	engine := gin.New()
	apiGroup := engine.Group("/medibot-api")
	if err := service.Start(context.Background(), engine, apiGroup); err != nil {
		t.Fatalf("启动中继服务失败: %v", err)
	}
	return service, engine
}

// testPNG 生成一张可解码的PNG并填充到指定大小
func testPNG(t *testing.T, totalSize int) []byte {
	t.Helper()
	img := goimage.NewRGBA(goimage.Rect(0, 0, 2, 2))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("生成测试PNG失败: %v", err)
	}
	data := buf.Bytes()
	if totalSize > len(data) {
		data = append(data, bytes.Repeat([]byte{0x00}, totalSize-len(data))...)
	}
	return data
}

func multipartUpload(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("创建multipart失败: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("写入multipart失败: %v", err)
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

func checkCORSHeaders(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	for _, header := range []string{
		"Access-Control-Allow-Origin",
		"Access-Control-Allow-Headers",
		"Access-Control-Allow-Methods",
	} {
		if w.Header().Get(header) != "*" {
			t.Errorf("响应缺少跨域头 %s", header)
		}
	}
}

func TestHandleTest(t *testing.T) {
	_, engine := newTestService(t, &fakeTextModel{}, &fakeVisionModel{})

	for _, path := range []string{"/test", "/medibot-api/test"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, path, nil)
			engine.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("状态码 = %d, 期望 200", w.Code)
			}
			checkCORSHeaders(t, w)

			var resp TestResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("解析响应失败: %v", err)
			}
			if resp.Status != "Backend is working!" {
				t.Errorf("status = %q", resp.Status)
			}
			if resp.Platform != "Go + Gin" {
				t.Errorf("platform = %q", resp.Platform)
			}
			if len(resp.Features) != 3 {
				t.Errorf("features数量 = %d, 期望 3", len(resp.Features))
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	_, engine := newTestService(t, &fakeTextModel{}, &fakeVisionModel{})

	for _, path := range []string{"/upload", "/medibot-api/upload", "/query", "/medibot-api/query"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodOptions, path, nil)
			engine.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("状态码 = %d, 期望 200", w.Code)
			}
			if w.Body.Len() != 0 {
				t.Errorf("预检响应体应为空, 得到 %q", w.Body.String())
			}
			checkCORSHeaders(t, w)
		})
	}
}

func TestNotFound(t *testing.T) {
	_, engine := newTestService(t, &fakeTextModel{}, &fakeVisionModel{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/bogus", nil)
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("状态码 = %d, 期望 404", w.Code)
	}
	checkCORSHeaders(t, w)

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp["error"] != "Not found" {
		t.Errorf("error = %q, 期望 Not found", resp["error"])
	}
}

func TestHandleUpload(t *testing.T) {
	t.Run("完整上传分析流程", func(t *testing.T) {
		vision := &fakeVisionModel{
			response: "IMAGING MODALITY:\n• Chest X-ray\nCLINICAL IMPRESSION:\n• Normal study",
		}
		_, engine := newTestService(t, &fakeTextModel{}, vision)

		data := testPNG(t, 10240)
		body, contentType := multipartUpload(t, "scan.png", data)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", contentType)
		engine.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("状态码 = %d, 期望 200", w.Code)
		}
		checkCORSHeaders(t, w)

		var resp UploadResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("解析响应失败: %v", err)
		}
		if !resp.Success {
			t.Fatal("期望 success = true")
		}

		// 响应里的图片必须能原样还原
		decoded, err := base64.StdEncoding.DecodeString(resp.ImageData)
		if err != nil {
			t.Fatalf("image_data不是合法base64: %v", err)
		}
		if !bytes.Equal(decoded, data) {
			t.Error("image_data与上传内容不一致")
		}

		if resp.Detections == nil {
			t.Error("detections应为空数组而不是null")
		}
		if len(resp.Detections) != 0 {
			t.Errorf("detections数量 = %d, 期望 0", len(resp.Detections))
		}

		if resp.Metadata.Filename != "scan.png" {
			t.Errorf("filename = %q", resp.Metadata.Filename)
		}
		if resp.Metadata.FileSizeBytes != 10240 {
			t.Errorf("file_size_bytes = %d, 期望 10240", resp.Metadata.FileSizeBytes)
		}
		if resp.Metadata.FileSizeMB != 0.01 {
			t.Errorf("file_size_mb = %v, 期望 0.01", resp.Metadata.FileSizeMB)
		}
		if resp.Metadata.Format != "image/png" {
			t.Errorf("format = %q, 期望 image/png", resp.Metadata.Format)
		}

		if resp.ProcessingInfo.ModelUsed != "google/gemini-2.5-flash" {
			t.Errorf("model_used = %q", resp.ProcessingInfo.ModelUsed)
		}
		if resp.ProcessingInfo.AnalysisType != "Medical Image Analysis" {
			t.Errorf("analysis_type = %q", resp.ProcessingInfo.AnalysisType)
		}

		if len(resp.Sections) != 2 {
			t.Errorf("小节数量 = %d, 期望 2", len(resp.Sections))
		}

		// 上游收到的是base64图片和分析模板
		if vision.gotImage.Data != resp.ImageData {
			t.Error("上游模型收到的图片与响应不一致")
		}
		if !strings.Contains(vision.gotText, "Analyze this medical image") {
			t.Error("上游模型未收到分析模板")
		}
		if len(vision.gotMessages) != 1 || vision.gotMessages[0].Role != "system" {
			t.Error("上游模型未收到系统提示词")
		}
	})

	t.Run("缺少文件字段", func(t *testing.T) {
		_, engine := newTestService(t, &fakeTextModel{}, &fakeVisionModel{})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(""))
		req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
		engine.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("状态码 = %d, 期望 200", w.Code)
		}
		var resp map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("解析响应失败: %v", err)
		}
		if resp["success"] != false {
			t.Error("期望 success = false")
		}
		if resp["error"] != "No file uploaded" {
			t.Errorf("error = %q, 期望 No file uploaded", resp["error"])
		}
	})

	t.Run("文件名为空", func(t *testing.T) {
		_, engine := newTestService(t, &fakeTextModel{}, &fakeVisionModel{})

		body, contentType := multipartUpload(t, "", testPNG(t, 0))
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", contentType)
		engine.ServeHTTP(w, req)

		var resp map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("解析响应失败: %v", err)
		}
		if resp["error"] != "No file selected" {
			t.Errorf("error = %q, 期望 No file selected", resp["error"])
		}
	})

	t.Run("文件类型非法", func(t *testing.T) {
		_, engine := newTestService(t, &fakeTextModel{}, &fakeVisionModel{})

		body, contentType := multipartUpload(t, "evil.png", []byte("not an image"))
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", contentType)
		engine.ServeHTTP(w, req)

		var resp map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("解析响应失败: %v", err)
		}
		if resp["error"] != "Invalid file type" {
			t.Errorf("error = %q, 期望 Invalid file type", resp["error"])
		}
	})

	t.Run("文件超过大小上限", func(t *testing.T) {
		service, engine := newTestService(t, &fakeTextModel{}, &fakeVisionModel{})
		logger := service.logger
		service.validator = image.NewImageSecurityValidator(&configs.SecurityConfig{MaxFileSize: 100}, logger)

		body, contentType := multipartUpload(t, "big.png", testPNG(t, 4096))
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", contentType)
		engine.ServeHTTP(w, req)

		var resp map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("解析响应失败: %v", err)
		}
		if resp["error"] != "File too large" {
			t.Errorf("error = %q, 期望 File too large", resp["error"])
		}
	})

	t.Run("请求体超过上限不被完整缓冲", func(t *testing.T) {
		service, engine := newTestService(t, &fakeTextModel{}, &fakeVisionModel{})
		logger := service.logger
		service.validator = image.NewImageSecurityValidator(&configs.SecurityConfig{MaxFileSize: 100}, logger)

		// 体积远超上限加预留量，MaxBytesReader在解析阶段就截断
		body, contentType := multipartUpload(t, "huge.png", testPNG(t, 70000))
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", contentType)
		engine.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("状态码 = %d, 期望 200", w.Code)
		}
		var resp map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("解析响应失败: %v", err)
		}
		if resp["error"] != "File too large" {
			t.Errorf("error = %q, 期望 File too large", resp["error"])
		}
	})

	t.Run("上游API错误保持200信封", func(t *testing.T) {
		vision := &fakeVisionModel{err: providers.NewAPIError("model overloaded")}
		_, engine := newTestService(t, &fakeTextModel{}, vision)

		body, contentType := multipartUpload(t, "scan.png", testPNG(t, 0))
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", contentType)
		engine.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("状态码 = %d, 期望 200", w.Code)
		}
		var resp map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("解析响应失败: %v", err)
		}
		if resp["success"] != false {
			t.Error("期望 success = false")
		}
		if resp["error"] != "API Error: model overloaded" {
			t.Errorf("error = %q", resp["error"])
		}
	})
}

func TestHandleQuery(t *testing.T) {
	t.Run("纯文本问答走文本模型", func(t *testing.T) {
		text := &fakeTextModel{response: "• Hypertension is elevated blood pressure"}
		vision := &fakeVisionModel{}
		_, engine := newTestService(t, text, vision)

		payload := `{"query":"What is hypertension?"}`
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		engine.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("状态码 = %d, 期望 200", w.Code)
		}
		checkCORSHeaders(t, w)

		var resp QueryResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("解析响应失败: %v", err)
		}
		if resp.Response != text.response {
			t.Errorf("response = %q", resp.Response)
		}
		if resp.ModelInfo.ModelUsed != "openai/gpt-3.5-turbo" {
			t.Errorf("model_used = %q, 期望文本模型", resp.ModelInfo.ModelUsed)
		}
		if resp.ModelInfo.QueryType != "Text-based Medical Query" {
			t.Errorf("query_type = %q", resp.ModelInfo.QueryType)
		}

		// 系统提示词+包装后的用户问题
		if len(text.gotMessages) != 2 {
			t.Fatalf("消息数量 = %d, 期望 2", len(text.gotMessages))
		}
		if text.gotMessages[0].Role != "system" {
			t.Error("第一条消息应为系统提示词")
		}
		if !strings.Contains(text.gotMessages[1].Content, "What is hypertension?") {
			t.Error("用户问题未传给上游模型")
		}
		if vision.gotText != "" {
			t.Error("纯文本问答不应调用多模态模型")
		}
	})

	t.Run("带图片问答走多模态模型", func(t *testing.T) {
		text := &fakeTextModel{}
		vision := &fakeVisionModel{response: "• Findings noted"}
		_, engine := newTestService(t, text, vision)

		imageBase64 := base64.StdEncoding.EncodeToString(testPNG(t, 0))
		payload, _ := json.Marshal(QueryRequest{
			Query:     "What does this show?",
			ImageData: imageBase64,
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		engine.ServeHTTP(w, req)

		var resp QueryResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("解析响应失败: %v", err)
		}
		if resp.ModelInfo.ModelUsed != "google/gemini-2.5-flash" {
			t.Errorf("model_used = %q, 期望多模态模型", resp.ModelInfo.ModelUsed)
		}
		if resp.ModelInfo.QueryType != "Image-based Medical Query" {
			t.Errorf("query_type = %q", resp.ModelInfo.QueryType)
		}
		if vision.gotImage.Data != imageBase64 {
			t.Error("图片base64未传给上游模型")
		}
		if !strings.Contains(vision.gotText, "What does this show?") {
			t.Error("用户问题未传给上游模型")
		}
		if len(text.gotMessages) != 0 {
			t.Error("带图片问答不应调用文本模型")
		}
	})

	t.Run("缺少问题内容", func(t *testing.T) {
		_, engine := newTestService(t, &fakeTextModel{}, &fakeVisionModel{})

		for name, payload := range map[string]string{
			"空JSON":  `{}`,
			"空字符串":   `{"query":""}`,
			"纯空白":    `{"query":"   "}`,
			"非法JSON": `not json`,
		} {
			t.Run(name, func(t *testing.T) {
				w := httptest.NewRecorder()
				req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(payload))
				req.Header.Set("Content-Type", "application/json")
				engine.ServeHTTP(w, req)

				if w.Code != http.StatusOK {
					t.Fatalf("状态码 = %d, 期望 200", w.Code)
				}
				var resp map[string]interface{}
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("解析响应失败: %v", err)
				}
				if resp["error"] != "No query provided" {
					t.Errorf("error = %q, 期望 No query provided", resp["error"])
				}
			})
		}
	})

	t.Run("图片数据非法返回英文错误", func(t *testing.T) {
		vision := &fakeVisionModel{}
		_, engine := newTestService(t, &fakeTextModel{}, vision)

		for name, imageData := range map[string]string{
			"非法base64":  "!!not-base64!!",
			"无法解码的base64": base64.StdEncoding.EncodeToString([]byte("not an image")),
		} {
			t.Run(name, func(t *testing.T) {
				payload, _ := json.Marshal(QueryRequest{Query: "What does this show?", ImageData: imageData})
				w := httptest.NewRecorder()
				req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(payload))
				req.Header.Set("Content-Type", "application/json")
				engine.ServeHTTP(w, req)

				if w.Code != http.StatusOK {
					t.Fatalf("状态码 = %d, 期望 200", w.Code)
				}
				var resp map[string]interface{}
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("解析响应失败: %v", err)
				}
				if resp["error"] != "Invalid image data" {
					t.Errorf("error = %q, 期望 Invalid image data", resp["error"])
				}
				if vision.gotText != "" {
					t.Error("非法图片不应到达上游模型")
				}
			})
		}
	})

	t.Run("上游网络错误保持200信封", func(t *testing.T) {
		text := &fakeTextModel{err: providers.NewNetworkError(errors.New("connection refused"))}
		_, engine := newTestService(t, text, &fakeVisionModel{})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(`{"query":"hello"}`))
		req.Header.Set("Content-Type", "application/json")
		engine.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("状态码 = %d, 期望 200", w.Code)
		}
		var resp map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("解析响应失败: %v", err)
		}
		if resp["error"] != "Network error: connection refused" {
			t.Errorf("error = %q", resp["error"])
		}
	})

	t.Run("网关前缀路由", func(t *testing.T) {
		text := &fakeTextModel{response: "ok"}
		_, engine := newTestService(t, text, &fakeVisionModel{})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/medibot-api/query", strings.NewReader(`{"query":"hello"}`))
		req.Header.Set("Content-Type", "application/json")
		engine.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("状态码 = %d, 期望 200", w.Code)
		}
		var resp QueryResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("解析响应失败: %v", err)
		}
		if resp.Response != "ok" {
			t.Errorf("response = %q", resp.Response)
		}
	})
}
