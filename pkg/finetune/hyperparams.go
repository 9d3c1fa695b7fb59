package finetune

import "strings"

// Training methods.
const (
	MethodLoRA = "lora"
	MethodFull = "full"
)

// GPU instance shapes by base model scale.
const (
	InstanceHeavy = "gpu.heavy"
	InstanceMid   = "gpu.mid"
	InstanceSmall = "gpu.small"
)

// loraTargetModules covers all attention and MLP projections.
var loraTargetModules = []string{
	"q_proj", "k_proj", "v_proj", "o_proj",
	"gate_proj", "up_proj", "down_proj",
}

// Hyperparameters is the training job tuning submitted to the backend.
type Hyperparameters struct {
	Method        string   `json:"method"`
	LoraRank      int      `json:"lora_rank,omitempty"`
	LoraAlpha     int      `json:"lora_alpha,omitempty"`
	LearningRate  float64  `json:"learning_rate"`
	Epochs        int      `json:"epochs"`
	BatchSize     int      `json:"batch_size"`
	GradAccum     int      `json:"gradient_accumulation,omitempty"`
	MaxSeqLen     int      `json:"max_seq_len,omitempty"`
	TargetModules []string `json:"target_modules,omitempty"`
	Instance      string   `json:"instance"`
}

// hyperparametersFor picks LoRA when the base model supports it, full
// fine-tuning otherwise, and sizes the training instance from the model
// scale in its name.
func hyperparametersFor(modelName string, supportsLoRA bool) Hyperparameters {
	instance := instanceFor(modelName)
	if !supportsLoRA {
		return Hyperparameters{
			Method:       MethodFull,
			LearningRate: 1e-5,
			Epochs:       3,
			BatchSize:    2,
			Instance:     instance,
		}
	}
	return Hyperparameters{
		Method:        MethodLoRA,
		LoraRank:      64,
		LoraAlpha:     32,
		LearningRate:  2e-4,
		Epochs:        3,
		BatchSize:     4,
		GradAccum:     4,
		MaxSeqLen:     2048,
		TargetModules: loraTargetModules,
		Instance:      instance,
	}
}

func instanceFor(modelName string) string {
	name := strings.ToLower(modelName)
	switch {
	case strings.Contains(name, "70b"):
		return InstanceHeavy
	case strings.Contains(name, "13b"):
		return InstanceMid
	default:
		return InstanceSmall
	}
}

// adjustForRetry softens the hyperparameters for the single retraining
// attempt after a failed validation: lower learning rate, smaller batches,
// one more epoch.
func adjustForRetry(h Hyperparameters) Hyperparameters {
	h.LearningRate /= 2
	if h.BatchSize > 1 {
		h.BatchSize /= 2
	}
	h.Epochs++
	return h
}
